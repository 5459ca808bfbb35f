package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ashley/internal/google"
)

func newTestServer(t *testing.T, rig *testRig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(rig.router, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func TestRouteEndpoint(t *testing.T) {
	rig := newTestRig(t)
	srv := newTestServer(t, rig)

	resp, body := postJSON(t, srv.URL+"/route", `{"text":"/jobs"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["reply"] != "No scheduled jobs found." {
		t.Errorf("reply = %v", body["reply"])
	}
}

func TestRouteEndpointMalformedJSON(t *testing.T) {
	rig := newTestRig(t)
	srv := newTestServer(t, rig)

	resp, _ := postJSON(t, srv.URL+"/route", `{"text": nope`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestOwnerMessageEndpoint(t *testing.T) {
	rig := newTestRig(t)
	srv := newTestServer(t, rig)

	resp, body := postJSON(t, srv.URL+"/owner-message", `{"agent":"coder","question":"q"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if body["ok"] != false || body["reply"] != "Missing required fields: agent, question, response" {
		t.Errorf("body = %v", body)
	}

	resp, body = postJSON(t, srv.URL+"/owner-message",
		`{"agent":"coder","question":"which db?","response":"postgres"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true || body["reply"] != "Owner message sent" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}
	if len(rig.notifier.ownerMsgs) != 1 || rig.notifier.ownerMsgs[0].answer != "postgres" {
		t.Errorf("owner messages = %v", rig.notifier.ownerMsgs)
	}
}

func TestOwnerMessageEndpointSendFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.notifier.fail = true
	srv := newTestServer(t, rig)

	resp, body := postJSON(t, srv.URL+"/owner-message",
		`{"agent":"coder","question":"q","response":"r"}`)
	if resp.StatusCode != http.StatusBadRequest || body["reply"] != "Failed to send owner message" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestAskOwnerEndpoint(t *testing.T) {
	rig := newTestRig(t)
	srv := newTestServer(t, rig)

	resp, body := postJSON(t, srv.URL+"/ask-owner", `{"agent":"coder"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "agent and question required" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, srv.URL+"/ask-owner",
		`{"agent":"coder","task_id":7,"question":"Which API key?"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	if body["result"] != "Question #1 sent to owner. Waiting for reply." {
		t.Errorf("result = %v", body["result"])
	}
	if len(rig.questions.created) != 1 || *rig.questions.created[0].TaskID != 7 {
		t.Errorf("created = %+v", rig.questions.created)
	}
}

func TestReplyEndpoint(t *testing.T) {
	rig := newTestRig(t)
	srv := newTestServer(t, rig)

	resp, body := postJSON(t, srv.URL+"/reply", `{"answer":"  "}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "answer required" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}

	rig.questions.Create(context.Background(), "planner", nil, "Proceed?")
	resp, body = postJSON(t, srv.URL+"/reply", `{"answer":"yes"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("status=%d body=%v", resp.StatusCode, body)
	}
	result, _ := body["result"].(string)
	if !strings.HasPrefix(result, "Answer recorded for question #1.") {
		t.Errorf("result = %q", result)
	}
}

func TestPendingEndpoint(t *testing.T) {
	rig := newTestRig(t)
	srv := newTestServer(t, rig)

	resp, err := http.Get(srv.URL + "/pending")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		OK        bool              `json:"ok"`
		Count     int               `json:"count"`
		Questions []pendingQuestion `json:"questions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Count != 0 || body.Questions == nil {
		t.Errorf("empty pending = %+v", body)
	}

	tid := int64(3)
	rig.questions.Create(context.Background(), "tester", &tid, "Rerun the suite?")

	resp2, err := http.Get(srv.URL + "/pending")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || len(body.Questions) != 1 {
		t.Fatalf("pending = %+v", body)
	}
	q := body.Questions[0]
	if q.ID != 1 || q.Agent != "tester" || *q.TaskID != 3 || q.Question != "Rerun the suite?" {
		t.Errorf("question = %+v", q)
	}
	if q.CreatedAt != "2026-08-24 09:30:00" {
		t.Errorf("created_at = %q", q.CreatedAt)
	}
}

// newFacadeServer stands in for the Google-services daemon and records the
// paths it was asked for.
func newFacadeServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	facade := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch {
		case r.URL.Path == "/emails" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]google.Email{
				{ID: "m1", From: "Ana <ana@example.com>", Subject: "Hi", Unread: true},
			})
		case r.URL.Path == "/emails/send":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/emails/unread":
			json.NewEncoder(w).Encode(map[string]int{"count": 3})
		case strings.HasPrefix(r.URL.Path, "/emails/"):
			json.NewEncoder(w).Encode(google.Email{ID: "m1", Subject: "Hi", Body: "hello"})
		case r.URL.Path == "/events" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]google.Event{
				{ID: "e1", Summary: "Standup", Start: "2026-08-24T09:00:00Z"},
			})
		case r.URL.Path == "/events" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(google.Event{ID: "e2", Summary: "Dentist"})
		case strings.HasPrefix(r.URL.Path, "/events/") && r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(facade.Close)
	return facade, &paths
}

func newFacadeTestServer(t *testing.T, facadeURL string) *httptest.Server {
	t.Helper()
	rig := newTestRig(t)
	srv := httptest.NewServer(NewServer(rig.router, google.NewClient(facadeURL)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestGmailEndpoints(t *testing.T) {
	facade, paths := newFacadeServer(t)
	srv := newFacadeTestServer(t, facade.URL)

	resp, err := http.Get(srv.URL + "/gmail/unread")
	if err != nil {
		t.Fatal(err)
	}
	var unread map[string]any
	json.NewDecoder(resp.Body).Decode(&unread)
	resp.Body.Close()
	if unread["ok"] != true || unread["count"] != float64(3) {
		t.Errorf("unread = %v", unread)
	}

	resp2, err := http.Get(srv.URL + "/gmail/inbox")
	if err != nil {
		t.Fatal(err)
	}
	var inbox map[string]any
	json.NewDecoder(resp2.Body).Decode(&inbox)
	resp2.Body.Close()
	if inbox["ok"] != true || inbox["count"] != float64(1) {
		t.Errorf("inbox = %v", inbox)
	}

	resp3, body := postJSON(t, srv.URL+"/gmail/send", `{"to":"ana@example.com","subject":"Hi","body":"yo"}`)
	if resp3.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("send status=%d body=%v", resp3.StatusCode, body)
	}
	resp4, body := postJSON(t, srv.URL+"/gmail/send", `{"to":"","subject":"Hi"}`)
	if resp4.StatusCode != http.StatusBadRequest || body["error"] != "to and subject required" {
		t.Errorf("send validation status=%d body=%v", resp4.StatusCode, body)
	}

	resp5, body := postJSON(t, srv.URL+"/gmail/read", `{"id":"m1"}`)
	if resp5.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("read status=%d body=%v", resp5.StatusCode, body)
	}

	resp6, body := postJSON(t, srv.URL+"/gmail/search", `{"query":"from:ana"}`)
	if resp6.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("search status=%d body=%v", resp6.StatusCode, body)
	}

	want := []string{
		"GET /emails/unread", "GET /emails", "POST /emails/send",
		"GET /emails/m1", "GET /emails",
	}
	if len(*paths) != len(want) {
		t.Fatalf("facade paths = %v", *paths)
	}
	for i, p := range want {
		if (*paths)[i] != p {
			t.Errorf("facade path[%d] = %q, want %q", i, (*paths)[i], p)
		}
	}
}

func TestCalendarEndpoints(t *testing.T) {
	facade, paths := newFacadeServer(t)
	srv := newFacadeTestServer(t, facade.URL)

	resp, err := http.Get(srv.URL + "/calendar/today")
	if err != nil {
		t.Fatal(err)
	}
	var today map[string]any
	json.NewDecoder(resp.Body).Decode(&today)
	resp.Body.Close()
	schedule, _ := today["schedule"].(string)
	if today["ok"] != true || !strings.Contains(schedule, "Standup") {
		t.Errorf("today = %v", today)
	}

	resp2, err := http.Get(srv.URL + "/calendar/week")
	if err != nil {
		t.Fatal(err)
	}
	var week map[string]any
	json.NewDecoder(resp2.Body).Decode(&week)
	resp2.Body.Close()
	if week["ok"] != true || week["count"] != float64(1) {
		t.Errorf("week = %v", week)
	}

	resp3, body := postJSON(t, srv.URL+"/calendar/create",
		`{"summary":"Dentist","start":"2026-08-25T10:00:00Z"}`)
	if resp3.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("create status=%d body=%v", resp3.StatusCode, body)
	}
	resp4, body := postJSON(t, srv.URL+"/calendar/create", `{"summary":"Dentist"}`)
	if resp4.StatusCode != http.StatusBadRequest || body["error"] != "summary and start required" {
		t.Errorf("create validation status=%d body=%v", resp4.StatusCode, body)
	}

	resp5, body := postJSON(t, srv.URL+"/calendar/delete", `{"id":"e1"}`)
	if resp5.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("delete status=%d body=%v", resp5.StatusCode, body)
	}

	last := (*paths)[len(*paths)-1]
	if last != "DELETE /events/e1" {
		t.Errorf("last facade path = %q", last)
	}
}

func TestFacadeUnavailable(t *testing.T) {
	facade := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(facade.Close)
	srv := newFacadeTestServer(t, facade.URL)

	resp, err := http.Get(srv.URL + "/gmail/inbox")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusBadGateway || body["error"] != "gmail facade unavailable" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}
}
