package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wsxxll/webchat/internal/ui"
)

func TestFetchStats(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms/lobby/stats" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(ui.RoomStats{
			RoomID:    "lobby",
			UserCount: 2,
			Users:     []string{"a", "b"},
			CreatedAt: created,
		})
	}))
	defer srv.Close()

	st, err := fetchStats(context.Background(), srv.URL+"/rooms/lobby/stats")
	if err != nil {
		t.Fatalf("fetchStats failed: %v", err)
	}
	if st.RoomID != "lobby" || st.UserCount != 2 || len(st.Users) != 2 || !st.CreatedAt.Equal(created) {
		t.Errorf("stats = %+v", st)
	}

	if _, err := fetchStats(context.Background(), srv.URL+"/rooms/empty/stats"); err == nil {
		t.Error("missing room should fail")
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"join", "lan", "stats", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
	if err := joinCmd.Args(joinCmd, nil); err == nil {
		t.Error("join without a room should be rejected")
	}
}
