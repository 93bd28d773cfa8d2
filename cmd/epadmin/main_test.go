package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/events"
)

const hecToken = "9f6c2e1a-3b4d-4c5e-8f7a-1b2c3d4e5f60"

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("EPADMIN_STORE", "sql")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "epadmin.db"))
	t.Setenv("SMB_MOUNT_ROOT", filepath.Join(dir, "smb"))
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func mustRun(t *testing.T, args ...string) (string, string) {
	t.Helper()
	out, errOut, err := run(t, args...)
	if err != nil {
		t.Fatalf("epadmin %s: %v\nstderr: %s", strings.Join(args, " "), err, errOut)
	}
	return out, errOut
}

func decodeRecords(t *testing.T, out string) []map[string]any {
	t.Helper()
	var recs []map[string]any
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("output is not a record list: %v\n%s", err, out)
	}
	return recs
}

// decodeEvent parses the single JSON notification printed in json mode.
func decodeEvent(t *testing.T, errOut string) events.Event {
	t.Helper()
	var ev events.Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(errOut)), &ev); err != nil {
		t.Fatalf("stderr is not one JSON event: %v\n%s", err, errOut)
	}
	return ev
}

func addHEC(t *testing.T, alias string, def bool) string {
	t.Helper()
	d := "false"
	if def {
		d = "true"
	}
	out, errOut := mustRun(t, "-o", "json", "collections", "add", "ep_hec",
		"--set", "alias="+alias, "--set", "host=hec.example.com", "--set", "token="+hecToken, "--set", "default="+d)
	recs := decodeRecords(t, out)
	if len(recs) != 1 {
		t.Fatalf("add printed %v", recs)
	}
	key, _ := recs[0]["stanza"].(string)
	ev := decodeEvent(t, errOut)
	if ev.Type != events.EventCreate || ev.Collection != "ep_hec" || ev.Key != key {
		t.Errorf("create notification = %+v", ev)
	}
	return key
}

func TestCollectionsKeepOneDefault(t *testing.T) {
	setupEnv(t)

	first := addHEC(t, "primary", true)
	second := addHEC(t, "secondary", true)
	addHEC(t, "third", false)

	out, _ := mustRun(t, "-o", "json", "collections", "list", "ep_hec")
	var coll struct {
		Name    string           `json:"name"`
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal([]byte(out), &coll); err != nil {
		t.Fatalf("list output: %v\n%s", err, out)
	}
	if len(coll.Records) != 3 {
		t.Fatalf("records = %v", coll.Records)
	}
	defaults := 0
	for _, r := range coll.Records {
		if r["default"] == true {
			defaults++
			if r["stanza"] != second {
				t.Errorf("default is %v, want %s", r["stanza"], second)
			}
		}
		if r["stanza"] == first && r["default"] != false {
			t.Errorf("first record still default: %v", r)
		}
	}
	if defaults != 1 {
		t.Errorf("found %d defaults", defaults)
	}

	// Promoting the first record again moves the flag back.
	mustRun(t, "collections", "update", "ep_hec", first, "--set", "default=true")
	out, _ = mustRun(t, "-o", "json", "collections", "list", "ep_hec")
	if err := json.Unmarshal([]byte(out), &coll); err != nil {
		t.Fatal(err)
	}
	for _, r := range coll.Records {
		if (r["default"] == true) != (r["stanza"] == first) {
			t.Errorf("after update: %v", r)
		}
	}
}

func TestCollectionsUpdateAndDelete(t *testing.T) {
	setupEnv(t)
	key := addHEC(t, "primary", false)

	out, errOut := mustRun(t, "-o", "json", "collections", "update", "ep_hec", key, "--set", "alias=renamed", "--set", "port=8088")
	recs := decodeRecords(t, out)
	if recs[0]["alias"] != "renamed" || recs[0]["port"] != "8088" || recs[0]["stanza"] != key {
		t.Errorf("updated = %v", recs[0])
	}
	if ev := decodeEvent(t, errOut); ev.Type != events.EventUpdate || ev.Key != key || ev.Message != "Update successful" {
		t.Errorf("update notification = %+v", ev)
	}

	_, errOut = mustRun(t, "collections", "delete", "ep_hec", key)
	if !strings.Contains(errOut, "[delete] ep_hec/"+key+": Record deleted successfully") {
		t.Errorf("stderr = %q", errOut)
	}
	out, _ = mustRun(t, "collections", "list", "ep_hec")
	if strings.Contains(out, key) {
		t.Errorf("deleted record still listed:\n%s", out)
	}

	if _, _, err := run(t, "collections", "delete", "ep_hec", key); err == nil {
		t.Error("deleting a missing record should fail")
	}
}

func TestCollectionsAddRejectsInvalidRecord(t *testing.T) {
	setupEnv(t)

	_, errOut, err := run(t, "collections", "add", "ep_hec", "--set", "alias=x", "--set", "host=h")
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("expected token validation error, got %v", err)
	}
	if !strings.Contains(errOut, "[error] ep_hec") {
		t.Errorf("expected an error notification, got %q", errOut)
	}
	if _, _, err := run(t, "collections", "add", "ep_hec", "--set", "nonsense"); err == nil {
		t.Error("expected error for an assignment without '='")
	}

	out, _ := mustRun(t, "-o", "json", "collections", "list", "ep_hec")
	var coll struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal([]byte(out), &coll); err != nil || len(coll.Records) != 0 {
		t.Errorf("nothing should have been written: %v\n%s", err, out)
	}
}

func TestCollectionsPasswordsTableMasksSecrets(t *testing.T) {
	setupEnv(t)
	mustRun(t, "collections", "add", "passwords", "--set", "realm=aws", "--set", "username=AKIA1", "--set", "password=hunter2")

	out, _ := mustRun(t, "collections", "list", "passwords")
	if !strings.Contains(out, "aws:AKIA1:") {
		t.Errorf("credential key missing:\n%s", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Errorf("password printed in clear:\n%s", out)
	}
}

func TestBrowseSMBShareWithState(t *testing.T) {
	dir := setupEnv(t)
	share := filepath.Join(dir, "smb", "fs01", "exports")
	for _, p := range []string{"2024/jan/day.csv", "report.csv"} {
		full := filepath.Join(share, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustRun(t, "collections", "add", "ep_smb",
		"--set", "alias=nas", "--set", "host=fs01", "--set", "share_name=exports", "--set", "default=true")

	state := filepath.Join(dir, "browse.yaml")
	browse := func(extra ...string) browser.View {
		t.Helper()
		args := append([]string{"-o", "json", "browse", "--collection", "ep_smb", "--state", state}, extra...)
		out, _ := mustRun(t, args...)
		var view browser.View
		if err := json.Unmarshal([]byte(out), &view); err != nil {
			t.Fatalf("browse output: %v\n%s", err, out)
		}
		return view
	}
	ids := func(chain []browser.ChainNode) []string {
		var out []string
		for _, n := range chain {
			out = append(out, n.ID)
		}
		return out
	}

	view := browse("--alias", "nas")
	if got := strings.Join(ids(view.Chain), " "); got != "/ /exports/" {
		t.Errorf("chain = %s", got)
	}
	names := map[string]bool{}
	for _, f := range view.Listing {
		names[f.Name()] = f.IsDir()
	}
	if isDir, ok := names["2024"]; !ok || !isDir {
		t.Errorf("listing = %v", view.Listing)
	}
	if _, ok := names["report.csv"]; !ok {
		t.Errorf("listing = %v", view.Listing)
	}

	view = browse("--folder", "/exports/2024/jan/")
	if got := strings.Join(ids(view.Chain), " "); got != "/ /exports/ /exports/2024/ /exports/2024/jan/" {
		t.Errorf("chain = %s", got)
	}
	if len(view.Listing) != 1 || view.Listing[0].Name() != "day.csv" {
		t.Fatalf("listing = %v", view.Listing)
	}
	if _, ok := view.Listing[0]["modDate"].(string); !ok {
		t.Errorf("modDate not normalized: %v", view.Listing[0])
	}

	// Going back up reuses the saved ancestry.
	view = browse("--folder", "/exports/2024/")
	if got := strings.Join(ids(view.Chain), " "); got != "/ /exports/ /exports/2024/" {
		t.Errorf("chain = %s", got)
	}

	data, err := os.ReadFile(state)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "/exports/2024/jan") {
		t.Errorf("state file does not hold the listing:\n%s", data)
	}

	if _, _, err := run(t, "browse", "--collection", "ep_smb", "--alias", "missing"); err == nil {
		t.Error("expected error for an unknown alias")
	}
}

func TestTokenAndOutputFormat(t *testing.T) {
	setupEnv(t)

	out, _ := mustRun(t, "-o", "json", "token", "svc-export", "--role", "admin", "--ttl", "1h")
	var tok tokenOutput
	if err := json.Unmarshal([]byte(out), &tok); err != nil {
		t.Fatalf("token output: %v\n%s", err, out)
	}
	if tok.Username != "svc-export" || strings.Count(tok.Token, ".") != 2 {
		t.Errorf("token = %+v", tok)
	}

	if _, _, err := run(t, "-o", "xml", "collections", "names"); err == nil {
		t.Error("expected error for unsupported output format")
	}
	out, _ = mustRun(t, "collections", "names")
	if !strings.Contains(out, "ep_hec") || !strings.Contains(out, "passwords") {
		t.Errorf("names = %s", out)
	}
}
