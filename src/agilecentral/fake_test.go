package agilecentral

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"build-bridge/src/config"
	"build-bridge/src/logger"
)

const apiPrefix = "/slm/webservice/v2.0/"

// fakeWSAPI serves canned query results and records creates.
type fakeWSAPI struct {
	mu        sync.Mutex
	results   map[string]func(q url.Values) []interface{}
	created   map[string][]map[string]interface{}
	createErr map[string][]string
	queries   []string
	nextOID   int64
}

func newFakeWSAPI() *fakeWSAPI {
	return &fakeWSAPI{
		results:   make(map[string]func(url.Values) []interface{}),
		created:   make(map[string][]map[string]interface{}),
		createErr: make(map[string][]string),
		nextOID:   1000,
	}
}

func (f *fakeWSAPI) on(entity string, fn func(q url.Values) []interface{}) {
	f.results[strings.ToLower(entity)] = fn
}

func (f *fakeWSAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	w.Header().Set("Content-Type", "application/json")

	if strings.HasSuffix(path, "/create") {
		entity := strings.TrimSuffix(path, "/create")
		var body map[string]map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var fields map[string]interface{}
		for _, v := range body {
			fields = v
		}
		f.created[entity] = append(f.created[entity], fields)

		if errs := f.createErr[entity]; len(errs) > 0 {
			json.NewEncoder(w).Encode(map[string]interface{}{"CreateResult": map[string]interface{}{"Errors": errs}})
			return
		}

		f.nextOID++
		obj := map[string]interface{}{
			"_ref":     fmt.Sprintf("https://example.test%s%s/%d", apiPrefix, entity, f.nextOID),
			"ObjectID": f.nextOID,
		}
		for _, k := range []string{"Name", "Revision", "Number", "Status", "SCMType", "Uri"} {
			if v, ok := fields[k]; ok {
				obj[k] = v
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"CreateResult": map[string]interface{}{"Errors": []string{}, "Object": obj}})
		return
	}

	q := r.URL.Query()
	f.queries = append(f.queries, path+"?"+q.Get("query"))
	var results []interface{}
	if fn := f.results[path]; fn != nil {
		results = fn(q)
	}
	if results == nil {
		results = []interface{}{}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"QueryResult": map[string]interface{}{
			"Errors":           []string{},
			"Warnings":         []string{},
			"TotalResultCount": len(results),
			"StartIndex":       1,
			"PageSize":         200,
			"Results":          results,
		},
	})
}

func (f *fakeWSAPI) createdCount(entity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[strings.ToLower(entity)])
}

func obj(fields ...interface{}) map[string]interface{} {
	m := make(map[string]interface{})
	for i := 0; i+1 < len(fields); i += 2 {
		m[fields[i].(string)] = fields[i+1]
	}
	return m
}

func ref(entity string, oid int64) string {
	return fmt.Sprintf("https://example.test%s%s/%d", apiPrefix, entity, oid)
}

// newTestConnection returns a connection to fake whose workspace and the
// projects Alpha (1) and Beta (2) are already resolved.
func newTestConnection(t *testing.T, fake *fakeWSAPI) *Connection {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	conn := NewConnection(config.AgileCentralConfig{Server: "example.test", APIKey: "k", Workspace: "W"}, logger.NewSilentLogger())
	conn.client.baseURL = server.URL + strings.TrimSuffix(apiPrefix, "/")
	conn.workspace = Workspace{Ref: ref("workspace", 1), ObjectID: 1, Name: "W"}
	conn.projects["Alpha"] = Project{Ref: ref("project", 1), ObjectID: 1, Name: "Alpha"}
	conn.projects["Beta"] = Project{Ref: ref("project", 2), ObjectID: 2, Name: "Beta"}
	return conn
}
