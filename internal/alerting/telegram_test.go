package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSendMessageSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 42},
		})
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, testLogger())
	id, err := tg.SendMessage(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("SendMessage 应成功: %v", err)
	}
	if id != 42 {
		t.Fatalf("message id 应为 42, 实际 %d", id)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if _, ok := received["reply_to_message_id"]; ok {
		t.Fatal("未请求回复时不应携带 reply_to_message_id")
	}
}

func TestSendMessageWithReply(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 43},
		})
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, testLogger())
	replyTo := int64(42)
	if _, err := tg.SendMessage(context.Background(), "again", &replyTo); err != nil {
		t.Fatalf("SendMessage 应成功: %v", err)
	}

	if received["reply_to_message_id"] != float64(42) {
		t.Fatalf("reply_to_message_id 不正确: %#v", received)
	}
	if received["allow_sending_without_reply"] != true {
		t.Fatal("应设置 allow_sending_without_reply")
	}
}

func TestSendMessageNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, testLogger())
	if _, err := tg.SendMessage(context.Background(), "hello", nil); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestSendPhotoMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendPhoto") {
			t.Fatalf("路径应包含 sendPhoto, 实际 %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("解析 multipart 失败: %v", err)
		}
		if r.FormValue("chat_id") != "chat" {
			t.Fatalf("chat_id 不正确: %q", r.FormValue("chat_id"))
		}
		if r.FormValue("caption") != "caption" {
			t.Fatalf("caption 不正确: %q", r.FormValue("caption"))
		}
		file, header, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo 字段缺失: %v", err)
		}
		defer file.Close()
		if header.Filename != "chart.png" {
			t.Fatalf("文件名不正确: %q", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 99},
		})
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, testLogger())
	id, err := tg.SendPhoto(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "caption", nil)
	if err != nil {
		t.Fatalf("SendPhoto 应成功: %v", err)
	}
	if id != 99 {
		t.Fatalf("message id 应为 99, 实际 %d", id)
	}
}

func TestSendMessageHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, testLogger())
	if _, err := tg.SendMessage(context.Background(), "hello", nil); err == nil {
		t.Fatal("HTTP 502 应报错")
	}
}
