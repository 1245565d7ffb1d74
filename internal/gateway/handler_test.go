package gateway

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/beaconmesh/beacon/internal/configstore"
	"github.com/beaconmesh/beacon/internal/domain"
	"github.com/beaconmesh/beacon/internal/registry"
)

func newTestHandler() *Handler {
	reg := registry.New(nil)
	cs := configstore.New()
	return New(reg, cs, nil, nil, nil)
}

func TestHandleServerCheck(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/v2/server/check", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestHandleInstanceRegister_And_List(t *testing.T) {
	h := newTestHandler()

	form := url.Values{
		"serviceName": {"orders"},
		"groupName":   {"DEFAULT_GROUP"},
		"namespaceId": {"public"},
		"ip":          {"10.0.0.1"},
		"port":        {"8080"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v2/ns/instance", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v2/ns/instance/list?serviceName=orders&groupName=DEFAULT_GROUP&namespaceId=public", nil)
	listRec := httptest.NewRecorder()
	h.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", listRec.Code, listRec.Body.String())
	}
	if !strings.Contains(listRec.Body.String(), "10.0.0.1") {
		t.Errorf("list response should contain the registered instance, got %s", listRec.Body.String())
	}

	key, _ := domain.NewServiceKey("public", "DEFAULT_GROUP", "orders")
	result := h.reg.Query(key, nil, false)
	if len(result.Instances) != 1 {
		t.Fatalf("registry has %d instances, want 1", len(result.Instances))
	}
	if result.Instances[0].LastHeartbeatMs == 0 {
		t.Error("ephemeral HTTP register should stamp LastHeartbeatMs so the expiry sweep doesn't reap it immediately")
	}
}

func TestHandleInstanceRegister_InvalidPort(t *testing.T) {
	h := newTestHandler()

	form := url.Values{
		"serviceName": {"orders"},
		"ip":          {"10.0.0.1"},
		"port":        {"not-a-number"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v2/ns/instance", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid port", rec.Code)
	}
}

func TestHandleInstanceDeregister(t *testing.T) {
	h := newTestHandler()

	registerForm := url.Values{
		"serviceName": {"orders"},
		"ip":          {"10.0.0.1"},
		"port":        {"8080"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v2/ns/instance", strings.NewReader(registerForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(httptest.NewRecorder(), req)

	deregReq := httptest.NewRequest(http.MethodDelete, "/v2/ns/instance", strings.NewReader(registerForm.Encode()))
	deregReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	deregRec := httptest.NewRecorder()
	h.ServeHTTP(deregRec, deregReq)

	if deregRec.Code != http.StatusOK {
		t.Fatalf("deregister status = %d, body = %s", deregRec.Code, deregRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v2/ns/instance/list?serviceName=orders", nil)
	listRec := httptest.NewRecorder()
	h.ServeHTTP(listRec, listReq)
	if strings.Contains(listRec.Body.String(), "10.0.0.1") {
		t.Error("deregistered instance should not appear in the list")
	}
}

func TestHandleConfigPublish_And_Get(t *testing.T) {
	h := newTestHandler()

	form := url.Values{
		"dataId": {"app.properties"},
		"group":  {"DEFAULT_GROUP"},
		"content": {"foo=bar"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v2/cs/config", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v2/cs/config?dataId=app.properties&group=DEFAULT_GROUP", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
	if getRec.Body.String() != "foo=bar" {
		t.Errorf("body = %q, want foo=bar", getRec.Body.String())
	}
}

func TestHandleConfigGet_NotFound(t *testing.T) {
	h := newTestHandler()

	getReq := httptest.NewRequest(http.MethodGet, "/v2/cs/config?dataId=missing.properties&group=DEFAULT_GROUP", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", getRec.Code)
	}
}

func TestHandleConfigRemove(t *testing.T) {
	h := newTestHandler()

	publishForm := url.Values{"dataId": {"app.properties"}, "group": {"DEFAULT_GROUP"}, "content": {"foo=bar"}}
	pubReq := httptest.NewRequest(http.MethodPost, "/v2/cs/config", strings.NewReader(publishForm.Encode()))
	pubReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(httptest.NewRecorder(), pubReq)

	rmReq := httptest.NewRequest(http.MethodDelete, "/v2/cs/config?dataId=app.properties&group=DEFAULT_GROUP", nil)
	rmRec := httptest.NewRecorder()
	h.ServeHTTP(rmRec, rmReq)
	if rmRec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rmRec.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v2/cs/config?dataId=app.properties&group=DEFAULT_GROUP", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Errorf("status after remove = %d, want 404", getRec.Code)
	}
}

func TestHandleConfigListener_DetectsChangeImmediately(t *testing.T) {
	h := newTestHandler()

	publishForm := url.Values{"dataId": {"app.properties"}, "group": {"DEFAULT_GROUP"}, "content": {"v2"}}
	pubReq := httptest.NewRequest(http.MethodPost, "/v2/cs/config", strings.NewReader(publishForm.Encode()))
	pubReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(httptest.NewRecorder(), pubReq)

	listenBody := "app.properties" + listenerFieldSep + "DEFAULT_GROUP" + listenerFieldSep + "stale-md5" + listenerLineSep
	form := url.Values{"Listening-Configs": {listenBody}}
	req := httptest.NewRequest(http.MethodPost, "/v2/cs/config/listener", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Long-Pulling-Timeout", "1000")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("listener status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "app.properties") {
		t.Errorf("changed-key response should mention app.properties, got %q", rec.Body.String())
	}
}

func TestHandleConfigListener_TimesOutWithNoChange(t *testing.T) {
	h := newTestHandler()

	publishForm := url.Values{"dataId": {"app.properties"}, "group": {"DEFAULT_GROUP"}, "content": {"v1"}}
	pubReq := httptest.NewRequest(http.MethodPost, "/v2/cs/config", strings.NewReader(publishForm.Encode()))
	pubReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(httptest.NewRecorder(), pubReq)

	key, err := domain.NewConfigKey("app.properties", "DEFAULT_GROUP", "")
	if err != nil {
		t.Fatalf("NewConfigKey: %v", err)
	}
	_, md5, _ := h.cs.Query(key, nil)

	listenBody := "app.properties" + listenerFieldSep + "DEFAULT_GROUP" + listenerFieldSep + md5 + listenerLineSep
	form := url.Values{"Listening-Configs": {listenBody}}
	req := httptest.NewRequest(http.MethodPost, "/v2/cs/config/listener", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Long-Pulling-Timeout", "600")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("listener status = %d", rec.Code)
	}
	if rec.Body.String() != "" {
		t.Errorf("no-change response should be empty, got %q", rec.Body.String())
	}
}
