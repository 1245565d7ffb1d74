package command

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstanceRegister_Success(t *testing.T) {
	var gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/ns/instance" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		gotForm = r.FormValue("serviceName")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	app := App()
	args := []string{"beaconctl", "--server", srv.URL, "instance", "register", "orders", "--ip", "10.0.0.1", "--port", "8080"}
	if err := app.Run(args); err != nil {
		t.Fatalf("app.Run: %v", err)
	}
	if gotForm != "orders" {
		t.Errorf("serviceName sent = %q, want orders", gotForm)
	}
}

func TestInstanceRegister_MissingServiceName(t *testing.T) {
	app := App()
	args := []string{"beaconctl", "instance", "register", "--ip", "10.0.0.1", "--port", "8080"}
	if err := app.Run(args); err == nil {
		t.Error("expected an error when SERVICE_NAME is omitted")
	}
}

func TestInstanceList_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("serviceName") != "orders" {
			t.Errorf("missing serviceName query param, got %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"hosts":[]}`))
	}))
	defer srv.Close()

	app := App()
	args := []string{"beaconctl", "--server", srv.URL, "instance", "list", "orders"}
	if err := app.Run(args); err != nil {
		t.Fatalf("app.Run: %v", err)
	}
}
