package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginAdoptsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if body["email"] != "alice@example.com" || body["password"] != "hunter2" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"token":    "jwt-abc",
			"username": "alice",
			"email":    "alice@example.com",
			"message":  "Login successful",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Login(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Username != "alice" {
		t.Errorf("username = %q", resp.Username)
	}
	if c.Token() != "jwt-abc" {
		t.Errorf("token not adopted, got %q", c.Token())
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid email or password"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Login(context.Background(), "alice@example.com", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "Invalid email or password" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestAuthorizedRequestsCarryBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-abc" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/chats/rooms/alice":
			w.Write([]byte(`[{"id":"general","name":"General","isGroup":true,"members":["alice","bob"]}]`))
		case "/chats/general/messages":
			w.Write([]byte(`[{"roomId":"general","senderUsername":"bob","content":"hey","timestamp":"2026-08-29T10:00:00Z"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("jwt-abc"))

	rooms, err := c.Rooms(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != "general" {
		t.Fatalf("rooms = %+v", rooms)
	}

	msgs, err := c.Messages(context.Background(), "general")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].SenderUsername != "bob" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestCreateGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/group/create" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Name    string   `json:"name"`
			Members []string `json:"memberUsernames"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if body.Name != "project" || len(body.Members) != 2 {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte(`{"id":"g-1","name":"project","isGroup":true,"members":["alice","bob","carol"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("jwt-abc"))
	room, err := c.CreateGroup(context.Background(), "project", []string{"bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if room.ID != "g-1" || !room.IsGroup {
		t.Fatalf("room = %+v", room)
	}
}

func TestSearchUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("query"); got != "bo b" {
			t.Errorf("query = %q", got)
		}
		w.Write([]byte(`[{"username":"bob","email":"bob@example.com"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("jwt-abc"))
	users, err := c.SearchUsers(context.Background(), "bo b")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("users = %+v", users)
	}
}

func TestErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Room(context.Background(), "general")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}
