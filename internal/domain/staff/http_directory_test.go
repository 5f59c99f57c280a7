package staff

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/periop/periop/internal/platform/apperr"
)

func newRemote(t *testing.T, members ...*StaffMember) *httptest.Server {
	t.Helper()
	byID := map[string]*StaffMember{}
	for _, m := range members {
		byID[m.ID.String()] = m
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/staff" && r.URL.Query().Get("ids") != "":
			var out []*StaffMember
			for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
				if m, ok := byID[id]; ok {
					out = append(out, m)
				}
			}
			json.NewEncoder(w).Encode(listResponse{Data: out, Total: len(out)})
		case r.URL.Path == "/staff":
			var out []*StaffMember
			for _, m := range members {
				if role := r.URL.Query().Get("role"); role != "" && string(m.Role) != role {
					continue
				}
				out = append(out, m)
			}
			json.NewEncoder(w).Encode(listResponse{Data: out, Total: len(out)})
		case strings.HasPrefix(r.URL.Path, "/staff/"):
			m, ok := byID[strings.TrimPrefix(r.URL.Path, "/staff/")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"code":"not_found"}`))
				return
			}
			json.NewEncoder(w).Encode(m)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPDirectory_Get(t *testing.T) {
	a := member("Ada", RoleNurse)
	srv := newRemote(t, a)
	d := NewHTTPDirectory(srv.URL+"/", time.Second)

	got, err := d.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Ada" || got.Role != RoleNurse {
		t.Errorf("unexpected member %+v", got)
	}

	_, err = d.Get(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPDirectory_Resolve(t *testing.T) {
	a, b := member("Ada", RoleNurse), member("Ben", RoleSurgeon)
	srv := newRemote(t, a, b)
	d := NewHTTPDirectory(srv.URL, time.Second)

	got, err := d.Resolve(context.Background(), []uuid.UUID{b.ID, a.ID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
		t.Errorf("unexpected order %+v", got)
	}

	_, err = d.Resolve(context.Background(), []uuid.UUID{a.ID, uuid.New()})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPDirectory_List(t *testing.T) {
	srv := newRemote(t, member("Ada", RoleNurse), member("Ben", RoleSurgeon))
	d := NewHTTPDirectory(srv.URL, time.Second)

	items, total, err := d.List(context.Background(), Filter{Role: RoleSurgeon}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].Name != "Ben" {
		t.Errorf("unexpected result total=%d items=%+v", total, items)
	}
}

func TestHTTPDirectory_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	d := NewHTTPDirectory(srv.URL, time.Second)

	_, _, err := d.List(context.Background(), Filter{}, 10, 0)
	if !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
