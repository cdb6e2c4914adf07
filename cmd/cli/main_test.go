package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAddCommand_PromptsAndPosts(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/targets" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "adm" {
			t.Errorf("missing api key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7,"type":"proxy","host":"10.0.0.6","port":3128}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCommand(strings.NewReader("squid\n10.0.0.6\n"), &out)
	root.SetArgs([]string{"--api", srv.URL, "--key", "adm", "add"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got["type"] != "squid" || got["host"] != "10.0.0.6" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if !strings.Contains(out.String(), "Added target 7") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestDeleteCommand_ReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"target not found"}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCommand(strings.NewReader(""), &out)
	root.SetErr(&out)
	root.SetArgs([]string{"--api", srv.URL, "delete", "3"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "target not found") {
		t.Fatalf("want 404 error, got %v", err)
	}
}

func TestListCommand_FiltersByKind(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`[{"id":1,"type":"http","host":"a","port":80,"interval":60}]`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	root := newRootCommand(strings.NewReader(""), &out)
	root.SetArgs([]string{"--api", srv.URL, "list", "--type", "nginx"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if path != "/api/http" || !strings.Contains(out.String(), "a:80") {
		t.Fatalf("path=%s out=%s", path, out.String())
	}
}
