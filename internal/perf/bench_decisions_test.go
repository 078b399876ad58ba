package perf

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/rolekeeper/rolekeeper/internal/observability"
	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

type authzEnv struct {
	service *rbac.Service
	metrics *observability.Metrics
	root    int64
	writer  int64
	reader  int64
}

func newAuthzEnv(tb testing.TB) *authzEnv {
	tb.Helper()
	ctx := context.Background()
	store := rbac.NewMemoryStore()
	plan := rbac.DefaultSeedPlan(
		rbac.PrincipalSeed{Name: "Root", Email: "root@perf.local", Password: "password1", Role: rbac.SuperAdminRole},
		rbac.PrincipalSeed{Name: "Writer", Email: "writer@perf.local", Password: "password1", Role: "WRITER"},
		rbac.PrincipalSeed{Name: "Reader", Email: "reader@perf.local", Password: "password1", Role: "ROLE_USER"},
	)
	if _, err := rbac.Bootstrap(ctx, store, plan, nil); err != nil {
		tb.Fatalf("seed: %v", err)
	}
	metrics := observability.NewMetrics()
	env := &authzEnv{
		service: rbac.NewService(store, rbac.WithDecisionObserver(metrics)),
		metrics: metrics,
	}
	for email, dst := range map[string]*int64{
		"root@perf.local":   &env.root,
		"writer@perf.local": &env.writer,
		"reader@perf.local": &env.reader,
	} {
		p, err := store.GetPrincipalByEmail(ctx, email)
		if err != nil {
			tb.Fatalf("lookup %s: %v", email, err)
		}
		*dst = p.ID
	}
	return env
}

func TestAuthorizeDecisionMix(t *testing.T) {
	env := newAuthzEnv(t)
	ctx := context.Background()

	// Mostly granted traffic with a small share of denials.
	for i := 0; i < 90; i++ {
		if !env.service.Authorize(ctx, env.writer, "EDIT_USER", nil).Allowed {
			t.Fatal("writer should hold EDIT_USER")
		}
	}
	for i := 0; i < 10; i++ {
		if env.service.Authorize(ctx, env.writer, "DELETE_USER", nil).Allowed {
			t.Fatal("writer must not hold DELETE_USER")
		}
	}
	if d := env.service.Authorize(ctx, 999999, "EDIT_USER", nil); d.Allowed || d.Reason != rbac.ReasonUnknownPrincipal {
		t.Fatalf("unexpected decision for unknown principal: %+v", d)
	}

	families, err := env.metrics.Gatherer().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	granted := metricValue(t, families, "rolekeeper_authz_decisions_total", map[string]string{"capability": "EDIT_USER", "reason": "granted", "allowed": "true"})
	denied := metricValue(t, families, "rolekeeper_authz_decisions_total", map[string]string{"capability": "DELETE_USER", "reason": "denied", "allowed": "false"})
	if granted != 90 || denied != 10 {
		t.Fatalf("unexpected decision counts: granted=%v denied=%v", granted, denied)
	}
	ratio := denied / (granted + denied)
	if ratio > 0.2 {
		t.Fatalf("denial ratio would trip the alert: %f", ratio)
	}
	unknown := metricValue(t, families, "rolekeeper_authz_decisions_total", map[string]string{"capability": "EDIT_USER", "reason": "unknown_principal", "allowed": "false"})
	if unknown != 1 {
		t.Fatalf("expected one unknown principal decision, got %v", unknown)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		val, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != val {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
