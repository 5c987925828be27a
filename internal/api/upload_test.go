package api

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/serverdm"
)

// fakeDMConversationRepo implements serverdm.Repository; only GetConversation is exercised by the upload handler.
type fakeDMConversationRepo struct {
	conv *serverdm.Conversation
}

func (r *fakeDMConversationRepo) GetConversation(_ context.Context, id uuid.UUID) (*serverdm.Conversation, error) {
	if r.conv != nil && r.conv.ID == id {
		return r.conv, nil
	}
	return nil, serverdm.ErrNotFound
}

func (r *fakeDMConversationRepo) Open(context.Context, uuid.UUID, uuid.UUID) (*serverdm.Conversation, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) ListConversations(context.Context, uuid.UUID) ([]serverdm.Conversation, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) ListMessages(context.Context, uuid.UUID, *uuid.UUID, int) ([]serverdm.Message, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) GetMessageByID(context.Context, uuid.UUID) (*serverdm.Message, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) SendMessage(context.Context, serverdm.SendMessageParams) (*serverdm.Message, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) EditMessage(context.Context, uuid.UUID, string) (*serverdm.Message, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) DeleteMessage(context.Context, uuid.UUID) error {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) AddReaction(context.Context, uuid.UUID, uuid.UUID, string) (int, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) RemoveReaction(context.Context, uuid.UUID, uuid.UUID, string) (int, error) {
	panic("not implemented")
}
func (r *fakeDMConversationRepo) MarkRead(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	panic("not implemented")
}

// pngBytes returns a tiny valid PNG, enough to satisfy the decode check.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testImageUploadApp(servers *fakeServerRepo, dms serverdm.Repository, storage *fakeStorageForUpload, userID uuid.UUID) *fiber.App {
	handler := NewUploadHandler(servers, dms, storage, nil, nil, 10*1024*1024, zerolog.Nop())

	app := fiber.New(fiber.Config{BodyLimit: 8 * 1024 * 1024})
	app.Use(fakeAuth(userID))
	app.Post("/upload/icon", handler.UploadIcon)
	app.Post("/upload/banner", handler.UploadBanner)
	app.Post("/upload/page-banner", handler.UploadPageBanner)
	app.Post("/dm/upload", handler.UploadDM)
	return app
}

func TestUploadIcon_Success(t *testing.T) {
	t.Parallel()
	servers := seedServerConfig()
	storage := newFakeStorageForUpload()
	app := testImageUploadApp(servers, &fakeDMConversationRepo{}, storage, uuid.New())

	req := multipartFileReq(t, "/upload/icon", "icon.png", pngBytes(t))
	resp := doReq(t, app, req)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if servers.cfg.IconKey == nil || !strings.HasPrefix(*servers.cfg.IconKey, "icons/") {
		t.Errorf("IconKey = %v, want icons/ prefix", servers.cfg.IconKey)
	}
	if _, ok := storage.files[*servers.cfg.IconKey]; !ok {
		t.Error("stored icon bytes not found in storage")
	}
}

func TestUploadIcon_RejectsNonImage(t *testing.T) {
	t.Parallel()
	servers := seedServerConfig()
	app := testImageUploadApp(servers, &fakeDMConversationRepo{}, newFakeStorageForUpload(), uuid.New())

	req := multipartFileReq(t, "/upload/icon", "notes.txt", []byte("not an image"))
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}

	// An image content type with undecodable bytes is also rejected.
	req = multipartFileReq(t, "/upload/icon", "fake.png", []byte("png impostor"))
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("impostor: status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestUploadBanner_SizeCap(t *testing.T) {
	t.Parallel()
	servers := seedServerConfig()
	app := testImageUploadApp(servers, &fakeDMConversationRepo{}, newFakeStorageForUpload(), uuid.New())

	// 900 KB exceeds the 800 KB banner cap; the size check fires before decoding.
	big := make([]byte, 900*1024)
	req := multipartFileReq(t, "/upload/banner", "banner.png", big)
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusRequestEntityTooLarge)
	}
}

func TestUploadPageBanner_ReturnsURLWithoutServerUpdate(t *testing.T) {
	t.Parallel()
	servers := seedServerConfig()
	before := servers.cfg.BannerKey
	storage := newFakeStorageForUpload()
	app := testImageUploadApp(servers, &fakeDMConversationRepo{}, storage, uuid.New())

	req := multipartFileReq(t, "/upload/page-banner", "hero.png", pngBytes(t))
	resp := doReq(t, app, req)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if servers.cfg.BannerKey != before {
		t.Error("page banner upload must not touch the server banner key")
	}
	if len(storage.files) != 1 {
		t.Fatalf("len(storage.files) = %d, want 1", len(storage.files))
	}
	for key := range storage.files {
		if !strings.HasPrefix(key, "page-banners/") {
			t.Errorf("storage key = %q, want page-banners/ prefix", key)
		}
	}
}

func dmUploadReq(t *testing.T, conversationID uuid.UUID, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("conversation_id", conversationID.String()); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/dm/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadDM(t *testing.T) {
	t.Parallel()
	alice := uuid.New()
	bob := uuid.New()
	conv := &serverdm.Conversation{ID: uuid.New(), UserAID: alice, UserBID: bob}
	storage := newFakeStorageForUpload()
	app := testImageUploadApp(seedServerConfig(), &fakeDMConversationRepo{conv: conv}, storage, alice)

	// A participant can upload.
	req := dmUploadReq(t, conv.ID, "notes.pdf", []byte("%PDF-1.4 fake"))
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}
	if len(storage.files) != 1 {
		t.Fatalf("len(storage.files) = %d, want 1", len(storage.files))
	}

	// An unknown conversation is a 404.
	req = dmUploadReq(t, uuid.New(), "notes.pdf", []byte("x"))
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("unknown conversation: status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
}

func TestUploadDM_NonParticipant(t *testing.T) {
	t.Parallel()
	conv := &serverdm.Conversation{ID: uuid.New(), UserAID: uuid.New(), UserBID: uuid.New()}
	app := testImageUploadApp(seedServerConfig(), &fakeDMConversationRepo{conv: conv}, newFakeStorageForUpload(), uuid.New())

	req := dmUploadReq(t, conv.ID, "secret.txt", []byte("hello"))
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}
