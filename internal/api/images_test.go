package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
)

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func uploadImage(t *testing.T, url, filename, contentType string) imageResponse {
	t.Helper()
	body, ct := multipartBody(t, filename, contentType, []byte("\x89PNG fake"))
	resp, err := http.Post(url+"/api/custom-images/upload", ct, body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var img imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&img); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return img
}

func TestUploadImage(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	img := uploadImage(t, ts.URL, "Arena.PNG", "image/png")

	if !strings.HasSuffix(img.ID, ".png") {
		t.Errorf("id = %q, want .png extension", img.ID)
	}
	if img.Filename != "Arena.PNG" {
		t.Errorf("filename = %q, want original name", img.Filename)
	}
	if img.URL != "/custom-images/"+img.ID {
		t.Errorf("url = %q", img.URL)
	}

	resp, err := http.Get(ts.URL + img.URL)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("static image status = %d, want 200", resp.StatusCode)
	}
}

func TestUploadImageRejectsNonImage(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, ct := multipartBody(t, "notes.txt", "text/plain", []byte("hello"))
	resp, err := http.Post(ts.URL+"/api/custom-images/upload", ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadImageMissingFile(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/custom-images/upload", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListAndDeleteImages(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	a := uploadImage(t, ts.URL, "a.jpg", "image/jpeg")
	b := uploadImage(t, ts.URL, "b.webp", "image/webp")

	list := func() []imageResponse {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/custom-images")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		var images []imageResponse
		if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return images
	}

	images := list()
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2", len(images))
	}
	ids := map[string]bool{images[0].ID: true, images[1].ID: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Errorf("listed ids %v, want %s and %s", ids, a.ID, b.ID)
	}

	del := func(id string) int {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/custom-images/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := del(a.ID); code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", code)
	}
	if code := del(a.ID); code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", code)
	}
	if got := list(); len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("remaining images = %v", got)
	}
}
