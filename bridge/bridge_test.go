package bridge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func doRequest(t *testing.T, b *Bridge, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	b.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	b := New()
	w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/health")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("health: %d %q", w.Code, w.Body.String())
	}
}

func TestLatestBeforeAnyPublish(t *testing.T) {
	b := New()
	w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/latest")
	if w.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", w.Code)
	}
}

func TestLatestSequenceWindow(t *testing.T) {
	b := New()
	png := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	b.PublishPNG(png, 320, 640)

	w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/latest?after=0")
	if w.Code != http.StatusOK {
		t.Fatalf("after=0: got %d, want 200", w.Code)
	}
	var resp latestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Seq != 1 || resp.Width != 320 || resp.Height != 640 {
		t.Fatalf("response: %+v", resp)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.PNGBase64)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(png) {
		t.Fatalf("png round trip mismatch: % x", decoded)
	}

	if w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/latest?after=1"); w.Code != http.StatusNoContent {
		t.Fatalf("after=seq: got %d, want 204", w.Code)
	}
}

func TestLatestMalformedAfter(t *testing.T) {
	b := New()
	b.PublishPNG([]byte{1}, 1, 1)
	for _, after := range []string{"abc", "1x", "-1", "%2B2", ""} {
		w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/latest?after="+after)
		if w.Code != http.StatusBadRequest {
			t.Errorf("after=%q: got %d, want 400", after, w.Code)
		}
	}
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		b.PublishPNG([]byte{byte(i)}, 1, 1)
	}
	w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/latest?after=2")
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	var resp latestResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Seq != 3 {
		t.Fatalf("seq = %d, want 3", resp.Seq)
	}
}

func TestPublishCopiesBuffer(t *testing.T) {
	b := New()
	buf := []byte{1, 2, 3}
	b.PublishPNG(buf, 1, 1)
	buf[0] = 99 // caller reuses its buffer

	w := doRequest(t, b, http.MethodGet, "/scrcpy-bridge/latest?after=0")
	var resp latestResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	decoded, _ := base64.StdEncoding.DecodeString(resp.PNGBase64)
	if decoded[0] != 1 {
		t.Fatal("published snapshot shares the caller's buffer")
	}
}

func TestCORSPreflight(t *testing.T) {
	b := New()
	w := doRequest(t, b, http.MethodOptions, "/scrcpy-bridge/latest")
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestUnknownPathAndMethod(t *testing.T) {
	b := New()
	if w := doRequest(t, b, http.MethodGet, "/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown path: got %d, want 404", w.Code)
	}
	if w := doRequest(t, b, http.MethodPut, "/scrcpy-bridge/latest"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("bad method: got %d, want 405", w.Code)
	}
}

func TestOfferEndpointWithoutHandler(t *testing.T) {
	b := New()
	if w := doRequest(t, b, http.MethodPost, "/scrcpy-bridge/webrtc"); w.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", w.Code)
	}
}
