package httpx

import "net/http"

// RespondError writes an RFC7807 problem for status. Detail is dropped for
// server errors so storage messages never reach the client.
func RespondError(w http.ResponseWriter, status int, detail string) {
	if status >= http.StatusInternalServerError {
		detail = ""
	}
	Problem(w, status, http.StatusText(status), detail)
}
