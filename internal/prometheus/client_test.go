/*
Copyright 2026 Volume Autoscaler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQueryRows_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query().Get("query")
		if q == "" {
			t.Error("missing query parameter")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [{
					"metric": {"namespace": "ns1", "persistentvolumeclaim": "data"},
					"value": [1234567890, "42.5"]
				}]
			}
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	rows, err := c.QueryRows(context.Background(), `test_metric{foo="bar"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Value != 42.5 {
		t.Errorf("expected 42.5, got %f", rows[0].Value)
	}
	if rows[0].Labels["persistentvolumeclaim"] != "data" {
		t.Errorf("expected label set to be preserved, got %v", rows[0].Labels)
	}
}

func TestQueryRows_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": []
			}
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	rows, err := c.QueryRows(context.Background(), "missing_metric")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected 0 rows, got %d", len(rows))
	}
}

func TestQueryRows_MultipleResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "vector",
				"result": [
					{"metric": {"persistentvolumeclaim": "pvc-a"}, "value": [1, "100"]},
					{"metric": {"persistentvolumeclaim": "pvc-b"}, "value": [1, "200"]}
				]
			}
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	rows, err := c.QueryRows(context.Background(), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	byPVC := map[string]float64{}
	for _, r := range rows {
		byPVC[r.Labels["persistentvolumeclaim"]] = r.Value
	}
	if byPVC["pvc-a"] != 100 {
		t.Errorf("expected pvc-a=100, got %f", byPVC["pvc-a"])
	}
	if byPVC["pvc-b"] != 200 {
		t.Errorf("expected pvc-b=200, got %f", byPVC["pvc-b"])
	}
}

func TestQueryRows_PrometheusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "error",
			"errorType": "bad_data",
			"error": "invalid query"
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.QueryRows(context.Background(), "bad{")
	if err == nil {
		t.Fatal("expected error for prometheus error response")
	}
}

func TestQueryRows_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("service unavailable"))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.QueryRows(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error for HTTP 503")
	}
}

func TestQueryRows_ConnectionRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // port 1 should refuse connections
	_, err := c.QueryRows(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error for connection refused")
	}
}
