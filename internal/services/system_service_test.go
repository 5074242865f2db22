package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
)

type stubHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (s stubHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceStampsBuildAndUptime(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepo{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}},
		Clock: func() time.Time { return testNow },
		Build: BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: testNow.Add(-90 * time.Minute)},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "staging" {
		t.Fatalf("build info not stamped: %+v", report)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(testNow) {
		t.Fatalf("unexpected uptime %s generatedAt %s", report.Uptime, report.GeneratedAt)
	}
}

func TestWorstStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"no checks": {want: domain.HealthStatusOK},
		"one degraded": {
			checks: map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusDegraded}, "pubsub": {Status: domain.HealthStatusOK}},
			want:   domain.HealthStatusDegraded,
		},
		"error wins": {
			checks: map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusDegraded}, "firestore": {Status: domain.HealthStatusError}},
			want:   domain.HealthStatusError,
		},
		"unknown counts as degraded": {
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: "flapping"}},
			want:   domain.HealthStatusDegraded,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := worstStatus(tc.checks); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSystemServiceKeepsRepositoryValues(t *testing.T) {
	svc, _ := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepo{report: domain.SystemHealthReport{Status: domain.HealthStatusError, Version: "from-probe"}},
		Build:            BuildInfo{Version: "1.4.0"},
	})
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Version != "from-probe" {
		t.Fatalf("repository values overwritten: %+v", report)
	}
}

func TestSystemServiceErrors(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	boom := errors.New("probe runner stopped")
	svc, _ := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepo{err: boom}})
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected collect error, got %v", err)
	}
}
