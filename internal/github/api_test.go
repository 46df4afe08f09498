package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFetchIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"octocat"}`)
	})
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "100" {
			t.Errorf("expected per_page=100, got %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[{"login":"acme"},{"login":"globex"}]`)
	})
	c, _ := newTestClient(t, mux)

	id, err := c.FetchIdentity(context.Background())
	if err != nil {
		t.Fatalf("FetchIdentity: %v", err)
	}
	if id.Login != "octocat" {
		t.Fatalf("unexpected login %q", id.Login)
	}
	if strings.Join(id.Organizations, ",") != "acme,globex" {
		t.Fatalf("unexpected orgs %v", id.Organizations)
	}
}

func TestFetchIdentity_OrgFailureKeepsUserScope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"octocat"}`)
	})
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"Must have admin rights"}`)
	})
	c, _ := newTestClient(t, mux)

	id, err := c.FetchIdentity(context.Background())
	if err != nil {
		t.Fatalf("FetchIdentity: %v", err)
	}
	if id.Login != "octocat" || len(id.Organizations) != 0 {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestFetchIdentity_UserFailureIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	})
	c, _ := newTestClient(t, mux)

	if _, err := c.FetchIdentity(context.Background()); err == nil || !strings.Contains(err.Error(), "Bad credentials") {
		t.Fatalf("expected Bad credentials error, got %v", err)
	}
}

func TestSearchCode(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/search/code", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"total_count":0,"incomplete_results":false}`)
			return
		}
		fmt.Fprint(w, `{"total_count":1,"incomplete_results":false,"items":[{"path":".github/workflows/deploy.yml","repository":{"full_name":"acme/app"}}]}`)
	})
	c, _ := newTestClient(t, mux)

	page, err := c.SearchCode(context.Background(), ".oast.fun in:file path:.github/workflows org:acme", 1, 100)
	if err != nil {
		t.Fatalf("SearchCode: %v", err)
	}
	if gotQuery != ".oast.fun in:file path:.github/workflows org:acme" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if !page.ItemsPresent || len(page.Items) != 1 || page.Total != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].GetRepository().GetFullName() != "acme/app" {
		t.Fatalf("unexpected repository %q", page.Items[0].GetRepository().GetFullName())
	}

	page, err = c.SearchCode(context.Background(), "x", 2, 100)
	if err != nil {
		t.Fatalf("SearchCode page 2: %v", err)
	}
	if page.ItemsPresent {
		t.Fatalf("expected missing items key to be reported")
	}
}

func TestListAndDisableWorkflows(t *testing.T) {
	var disabled int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/actions/workflows", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_count":2,"workflows":[{"id":1,"name":"ci","state":"active"},{"id":2,"name":"old","state":"disabled_manually"}]}`)
	})
	mux.HandleFunc("/repos/acme/app/actions/workflows/1/disable", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		atomic.AddInt32(&disabled, 1)
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, mux)

	wfs, err := c.ListWorkflows(context.Background(), "acme/app")
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(wfs) != 2 || wfs[0].GetState() != "active" {
		t.Fatalf("unexpected workflows %+v", wfs)
	}
	if err := c.DisableWorkflow(context.Background(), "acme/app", 1); err != nil {
		t.Fatalf("DisableWorkflow: %v", err)
	}
	if atomic.LoadInt32(&disabled) != 1 {
		t.Fatalf("expected one disable call")
	}
}

func TestCheckRateBudget_WarnsWhenLow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resources":{"core":{"limit":5000,"remaining":99,"reset":1700000000},"search":{"limit":30,"remaining":9,"reset":1700000000}}}`)
	})
	core, logs := observer.New(zapcore.InfoLevel)
	c, _ := newTestClient(t, mux, WithLogger(zap.New(core)))

	rb := c.CheckRateBudget(context.Background())
	if rb.Core.Remaining != 99 || rb.Search.Remaining != 9 {
		t.Fatalf("unexpected budget %+v", rb)
	}
	if logs.FilterMessage("core API quota is low").Len() != 1 {
		t.Fatalf("expected core warning")
	}
	if logs.FilterMessage("search API quota is low").Len() != 1 {
		t.Fatalf("expected search warning")
	}
	warn := logs.FilterMessage("core API quota is low").All()[0]
	if _, ok := warn.ContextMap()["resets_at"]; !ok {
		t.Fatalf("expected reset time in warning")
	}
}

func TestCheckRateBudget_FailureIsAdvisory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	core, logs := observer.New(zapcore.WarnLevel)
	c, sleeps := newTestClient(t, mux, WithLogger(zap.New(core)))

	rb := c.CheckRateBudget(context.Background())
	if rb.Core.Observed {
		t.Fatalf("expected empty snapshot, got %+v", rb)
	}
	if logs.FilterMessage("rate limit check failed").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
	if len(sleeps.all()) != 0 {
		t.Fatalf("advisory check must not back off")
	}
}
