package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deductiv/export-everything-sub000/internal/auth"
	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/gateway/eai"
	"github.com/deductiv/export-everything-sub000/internal/record"
	"github.com/deductiv/export-everything-sub000/internal/sqlstore"
	"github.com/deductiv/export-everything-sub000/internal/storage"
	"github.com/deductiv/export-everything-sub000/pkg/retry"
)

const testApp = "export_everything"

// folderLister answers every folder with one subfolder and one file.
type folderLister struct {
	fail error
}

func (l *folderLister) List(_ context.Context, folder string) ([]browser.FileEntry, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	folder = strings.TrimRight(folder, "/")
	return []browser.FileEntry{
		{"id": folder + "/sub/", "name": "sub", "isDir": true},
		{"id": folder + "/data.csv", "name": "data.csv", "isDir": false, "size": 12, "modDate": 1700000000},
	}, nil
}

func (l *folderLister) Type() string { return "folder" }
func (l *folderLister) Close() error { return nil }

type fixture struct {
	server  *httptest.Server
	auth    *auth.Auth
	token   string
	folders []string
}

func newFixture(t *testing.T, listErr error) *fixture {
	t.Helper()
	store, err := sqlstore.New("sqlite", ":memory:", testApp)
	if err != nil {
		t.Fatalf("sqlstore.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, rec := range []record.Record{
		record.New("k1", map[string]any{"alias": "s3", "default": true, "default_s3_bucket": "bucket1"}),
		record.New("k2", map[string]any{"alias": "other", "default": false}),
	} {
		if _, err := store.Create(ctx, "ep_aws_s3", rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	f := &fixture{auth: auth.New("test-secret")}
	router := storage.NewRouter(store, testApp, func(context.Context, storage.Profile) (storage.Lister, error) {
		return &recordingFolders{folderLister: folderLister{fail: listErr}, seen: &f.folders}, nil
	})
	t.Cleanup(func() { router.Close() })

	f.server = httptest.NewServer(NewServer(router, f.auth).Handler())
	t.Cleanup(f.server.Close)

	f.token, _, err = f.auth.IssueToken("svc-export", nil, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return f
}

type recordingFolders struct {
	folderLister
	seen *[]string
}

func (l *recordingFolders) List(ctx context.Context, folder string) ([]browser.FileEntry, error) {
	*l.seen = append(*l.seen, folder)
	return l.folderLister.List(ctx, folder)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var buf []byte
	dec := json.NewDecoder(resp.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err == nil {
		buf = raw
	}
	return resp, buf
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != Version {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestDirlistRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.server.URL + "/services/" + eai.DirlistEndpoint + "?config=ep_aws_s3&alias=s3")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDirlistSuccessEnvelope(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{
		"/services/" + eai.DirlistEndpoint + "?config=ep_aws_s3&alias=s3&folder=%5Cbucket1%5Clogs",
		"/servicesNS/-/" + testApp + "/" + eai.DirlistEndpoint + "?config=ep_aws_s3&alias=s3&folder=/bucket1/logs",
	} {
		resp, body := f.get(t, path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d (%s)", path, resp.StatusCode, body)
		}
		var env []struct {
			Payload string `json:"payload"`
			Status  int    `json:"status"`
		}
		if err := json.Unmarshal(body, &env); err != nil || len(env) != 1 {
			t.Fatalf("%s: envelope = %s", path, body)
		}
		if env[0].Status != 200 {
			t.Errorf("status = %d", env[0].Status)
		}
		var entries []map[string]any
		if err := json.Unmarshal([]byte(env[0].Payload), &entries); err != nil {
			t.Fatalf("payload is not a JSON list: %q", env[0].Payload)
		}
		if len(entries) != 2 || entries[0]["id"] != "/bucket1/logs/sub/" {
			t.Errorf("entries = %v", entries)
		}
	}
	if len(f.folders) != 2 || f.folders[0] != "/bucket1/logs" || f.folders[1] != "/bucket1/logs" {
		t.Errorf("folders = %v", f.folders)
	}
}

func TestDirlistDefaultFolder(t *testing.T) {
	f := newFixture(t, nil)
	for _, alias := range []string{"s3", "", "default"} {
		resp, body := f.get(t, "/services/"+eai.DirlistEndpoint+"?config=ep_aws_s3&alias="+alias)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("alias %q: status = %d (%s)", alias, resp.StatusCode, body)
		}
	}
	for i, folder := range f.folders {
		if folder != "/bucket1" {
			t.Errorf("request %d listed %q, want the default bucket", i, folder)
		}
	}
}

func TestDirlistErrorEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		listErr error
		query   string
		want    string
	}{
		{"no query", nil, "", "No query supplied"},
		{"missing alias", nil, "?config=ep_aws_s3", "Invalid query"},
		{"missing config", nil, "?alias=s3", "Invalid query"},
		{"unknown alias", nil, "?config=ep_aws_s3&alias=nope", "Cannot find the specified configuration"},
		{"unknown collection", nil, "?config=ep_nope&alias=x", `Could not get config: invalid collection: unknown collection ep_nope`},
		{"passwords", nil, "?config=passwords&alias=x", "Could not get config: invalid config: passwords have no storage"},
		{"lister failure", errors.New(`Exception(("AccessDenied: 'bucket1'"))`), "?config=ep_aws_s3&alias=s3", "(AccessDenied: bucket1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.listErr)
			resp, body := f.get(t, "/services/"+eai.DirlistEndpoint+tt.query)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Errorf("status = %d", resp.StatusCode)
			}
			var env errorEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				t.Fatalf("error envelope = %s", body)
			}
			if env.Error != tt.want || env.Payload != tt.want || env.Status != 500 {
				t.Errorf("envelope = %+v, want message %q", env, tt.want)
			}
		})
	}
}

func TestScrubError(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`plain`, `plain`},
		{`Exception("boom")`, `boom)`},
		{`ClientError(('x', "y"))`, `ClientError(x, y)`},
		{`C:\\path\\to`, `C:pathto`},
		{`a((((b))))`, `a(b)`},
	}
	for _, tt := range tests {
		if got := scrubError(tt.in); got != tt.want {
			t.Errorf("scrubError(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newBrowser(t *testing.T, f *fixture) *browser.Browser {
	t.Helper()
	client := eai.New(eai.Config{
		BaseURL:     f.server.URL,
		App:         testApp,
		Token:       f.token,
		RetryConfig: retry.Config{MaxAttempts: 1, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1},
	})
	return browser.New(client, browser.WithTimeout(5*time.Second))
}

func TestBrowseThroughServer(t *testing.T) {
	f := newFixture(t, nil)
	b := newBrowser(t, f)
	ctx := context.Background()

	view, err := b.ShowFolder(ctx, browser.Request{
		Collection: "ep_aws_s3",
		Alias:      "s3",
		Container:  "bucket1",
	})
	if err != nil {
		t.Fatalf("ShowFolder: %v", err)
	}
	if len(view.Chain) != 2 || view.Chain[1].ID != "/bucket1/" {
		t.Fatalf("chain = %+v", view.Chain)
	}
	if len(view.Listing) != 2 {
		t.Fatalf("listing = %v", view.Listing)
	}
	if got := view.Listing[1]["modDate"]; got != "2023-11-14T22:13:20.000Z" {
		t.Errorf("modDate = %v", got)
	}

	next, err := b.ShowFolder(ctx, browser.Request{
		Collection:      "ep_aws_s3",
		Alias:           "s3",
		Container:       "bucket1",
		Descriptor:      browser.OpenEntry(view.Listing[0]),
		PreviousChain:   view.Chain,
		PreviousListing: view.Listing,
	})
	if err != nil {
		t.Fatalf("ShowFolder sub: %v", err)
	}
	last := next.Chain[len(next.Chain)-1]
	if last.ID != "/bucket1/sub/" || last.Name != "sub" {
		t.Errorf("chain tail = %+v", last)
	}
	if f.folders[0] != "/bucket1/" || f.folders[1] != "/bucket1/sub/" {
		t.Errorf("folders = %v", f.folders)
	}
}

func TestBrowseRemoteError(t *testing.T) {
	f := newFixture(t, nil)
	b := newBrowser(t, f)

	_, err := b.ShowFolder(context.Background(), browser.Request{
		Collection: "ep_aws_s3",
		Alias:      "missing",
		Container:  "bucket1",
	})
	le, ok := gateway.AsListing(err)
	if !ok {
		t.Fatalf("expected ListingError, got %v", err)
	}
	if !le.Remote || le.Status != 500 || le.Message != "Cannot find the specified configuration" {
		t.Errorf("listing error = %+v", le)
	}
	if !gateway.IsRemote(err) || gateway.IsTransport(err) {
		t.Errorf("classification: remote %v transport %v", gateway.IsRemote(err), gateway.IsTransport(err))
	}
}
