package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]string
	}{
		{
			name: "empty",
			args: []string{},
			want: map[string]string{},
		},
		{
			name: "single flag",
			args: []string{"--type", "market_analysis"},
			want: map[string]string{"type": "market_analysis"},
		},
		{
			name: "multiple flags",
			args: []string{"--type", "market_analysis", "--priority", "high", "--payload", "{}"},
			want: map[string]string{"type": "market_analysis", "priority": "high", "payload": "{}"},
		},
		{
			name: "flag without value is ignored",
			args: []string{"--type"},
			want: map[string]string{},
		},
		{
			name: "non-flag args ignored",
			args: []string{"positional", "--type", "scan"},
			want: map[string]string{"type": "scan"},
		},
		{
			name: "short prefix not treated as flag",
			args: []string{"-t", "scan"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseArgs(tt.args)
			if len(got) != len(tt.want) {
				t.Errorf("parseArgs(%v) returned %d entries, want %d", tt.args, len(got), len(tt.want))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseArgs(%v)[%q] = %q, want %q", tt.args, k, got[k], v)
				}
			}
		})
	}
}

func TestAPIClientDo(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotAuth, _ = r.BasicAuth()
		switch r.URL.Path {
		case "/api/state":
			w.Write([]byte(`{"state":"active"}`))
		case "/api/tasks":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"task queue full"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, password: "hunter2", http: srv.Client()}

	var state struct {
		State string `json:"state"`
	}
	if err := client.do("GET", "/api/state", nil, &state); err != nil {
		t.Fatalf("do: %v", err)
	}
	if state.State != "active" {
		t.Errorf("state = %q", state.State)
	}
	if gotAuth != "hunter2" {
		t.Errorf("basic auth password = %q", gotAuth)
	}

	err := client.do("POST", "/api/tasks", map[string]string{"type": "scan"}, nil)
	if err == nil || err.Error() != "task queue full" {
		t.Errorf("error = %v, want server-side message", err)
	}
}
