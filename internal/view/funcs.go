package view

import (
	"html/template"
	"strings"
	"time"
)

var badgeVerbs = map[string]struct{}{
	"create": {},
	"read":   {},
	"view":   {},
	"update": {},
	"edit":   {},
	"delete": {},
	"manage": {},
	"admin":  {},
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": formatDate,
		"can":        can,
		"badgeClass": BadgeClass,
		"hasID":      hasID,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02 Jan 2006 15:04")
}

func can(v Viewer, capability string) bool {
	if v == nil {
		return false
	}
	return v.Can(capability)
}

// BadgeClass picks a badge colour from the verb before the first
// underscore of a permission name.
func BadgeClass(name string) string {
	verb, _, _ := strings.Cut(name, "_")
	verb = strings.ToLower(verb)
	if _, ok := badgeVerbs[verb]; ok {
		return "badge badge-" + verb
	}
	return "badge badge-default"
}

func hasID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
