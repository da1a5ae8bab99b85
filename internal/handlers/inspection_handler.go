package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/glebrm/inspect-backend/internal/dto"
	"github.com/glebrm/inspect-backend/internal/extract"
	"github.com/glebrm/inspect-backend/internal/imaging"
	"github.com/glebrm/inspect-backend/internal/middleware"
	"github.com/glebrm/inspect-backend/internal/records"
	"github.com/glebrm/inspect-backend/internal/remote"
	"github.com/glebrm/inspect-backend/internal/session"
	"github.com/glebrm/inspect-backend/internal/store"
	"github.com/gofiber/fiber/v2"
)

const maxUploadBytes = 4 * 1024 * 1024

// InspectionHandler exposes the acceptance-act flow: photo capture with
// AI extraction into a draft, draft correction, commit, and the saved
// record collection with its live watch stream.
type InspectionHandler struct {
	sessions  *session.Manager
	syn       *remote.Synchronizer
	extractor extract.Extractor
}

func NewInspectionHandler(sessions *session.Manager, syn *remote.Synchronizer, extractor extract.Extractor) *InspectionHandler {
	return &InspectionHandler{sessions: sessions, syn: syn, extractor: extractor}
}

func (h *InspectionHandler) userSession(c *fiber.Ctx) (*session.Session, error) {
	userID, err := middleware.UserID(c)
	if err != nil {
		return nil, err
	}
	return h.sessions.Get(userID), nil
}

// Capture accepts the act photo, runs extraction and installs the result
// as the user's draft. A capture superseded by a newer one while the
// model was running is rejected.
func (h *InspectionHandler) Capture(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}

	file, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Image file is required",
		})
	}

	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/jpeg") && !strings.HasPrefix(contentType, "image/png") {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Only JPEG and PNG images are supported",
		})
	}
	if file.Size > maxUploadBytes {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Image too large. Maximum 4MB.",
		})
	}

	f, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to read image",
		})
	}
	defer f.Close()

	imageBytes, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to read image data",
		})
	}

	token := sess.StartCapture(imageBytes, file.Filename)

	result, err := h.extractor.ProcessAct(c.Context(), imageBytes, contentType)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Extraction failed: " + err.Error(),
		})
	}

	if err := sess.PopulateDraft(token, result.Card); err != nil {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: "Capture superseded by a newer one",
		})
	}

	draft, err := sess.Draft()
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: "Capture superseded by a newer one",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.CaptureResponse{
		Draft:    draft,
		Errors:   result.Errors,
		Warnings: result.Warnings,
	})
}

func (h *InspectionHandler) GetDraft(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}

	draft, err := sess.Draft()
	if err != nil {
		return noDraft(c)
	}
	return c.JSON(draft)
}

func (h *InspectionHandler) PatchDraft(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if !hasDraft(sess) {
		return noDraft(c)
	}

	if err := sess.Mutate(c.Body()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid patch payload",
		})
	}

	draft, err := sess.Draft()
	if err != nil {
		return noDraft(c)
	}
	return c.JSON(draft)
}

func (h *InspectionHandler) DiscardDraft(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	sess.Discard()
	return c.JSON(fiber.Map{"message": "Draft discarded"})
}

func (h *InspectionHandler) CommitDraft(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}

	stored, err := sess.Commit(c.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoDraft):
			return noDraft(c)
		case errors.Is(err, store.ErrRecordTooLarge):
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(dto.ErrorResponse{
				Error: true, Message: "Record exceeds the storage size limit. Retake the photo at a smaller size.",
			})
		case errors.Is(err, imaging.ErrEncode):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
				Error: true, Message: "Captured image could not be encoded",
			})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to save record",
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(stored)
}

func (h *InspectionHandler) AddDraftDefect(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if !hasDraft(sess) {
		return noDraft(c)
	}
	return h.addDefect(c, sess)
}

func (h *InspectionHandler) PatchDraftDefect(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if !hasDraft(sess) {
		return noDraft(c)
	}
	return h.patchDefect(c, sess)
}

func (h *InspectionHandler) DeleteDraftDefect(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if !hasDraft(sess) {
		return noDraft(c)
	}
	return h.deleteDefect(c, sess)
}

func (h *InspectionHandler) AddDraftComment(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if !hasDraft(sess) {
		return noDraft(c)
	}
	return h.addComment(c, sess)
}

func (h *InspectionHandler) DeleteDraftComment(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if !hasDraft(sess) {
		return noDraft(c)
	}
	return h.deleteComment(c, sess)
}

// List returns the saved collection in natural house-number order. If a
// background save failed since the last read, the response carries a
// sync_error so the client can tell the user the edit did not stick.
func (h *InspectionHandler) List(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}

	resp := dto.ListResponse{}
	if syncErr := sess.LastSyncError(); syncErr != nil {
		msg := "A recent change could not be saved and may be reverted"
		resp.SyncError = &msg
	}
	resp.Records = sess.Records()
	resp.Total = len(resp.Records)
	return c.JSON(resp)
}

func (h *InspectionHandler) GetByID(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}

	rec, err := sess.Record(c.Params("id"))
	if err != nil {
		return notFound(c)
	}
	return c.JSON(rec)
}

// PatchRecord applies a shallow field merge to a saved record. The edit
// lands in the in-memory collection immediately and reaches the store in
// the background.
func (h *InspectionHandler) PatchRecord(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if hasDraft(sess) {
		return draftInProgress(c)
	}

	id := c.Params("id")
	if err := sess.Select(id); err != nil {
		return notFound(c)
	}
	if err := sess.Mutate(c.Body()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid patch payload",
		})
	}

	rec, err := sess.Record(id)
	if err != nil {
		return notFound(c)
	}
	return c.JSON(rec)
}

func (h *InspectionHandler) DeleteRecord(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}

	if err := sess.Delete(c.Params("id")); err != nil {
		return notFound(c)
	}
	return c.JSON(fiber.Map{"message": "Record deleted"})
}

func (h *InspectionHandler) AddRecordDefect(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if hasDraft(sess) {
		return draftInProgress(c)
	}
	if err := sess.Select(c.Params("id")); err != nil {
		return notFound(c)
	}
	return h.addDefect(c, sess)
}

func (h *InspectionHandler) PatchRecordDefect(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if hasDraft(sess) {
		return draftInProgress(c)
	}
	if err := sess.Select(c.Params("id")); err != nil {
		return notFound(c)
	}
	return h.patchDefect(c, sess)
}

func (h *InspectionHandler) DeleteRecordDefect(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if hasDraft(sess) {
		return draftInProgress(c)
	}
	if err := sess.Select(c.Params("id")); err != nil {
		return notFound(c)
	}
	return h.deleteDefect(c, sess)
}

func (h *InspectionHandler) AddRecordComment(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if hasDraft(sess) {
		return draftInProgress(c)
	}
	if err := sess.Select(c.Params("id")); err != nil {
		return notFound(c)
	}
	return h.addComment(c, sess)
}

func (h *InspectionHandler) DeleteRecordComment(c *fiber.Ctx) error {
	sess, err := h.userSession(c)
	if err != nil {
		return unauthorized(c)
	}
	if hasDraft(sess) {
		return draftInProgress(c)
	}
	if err := sess.Select(c.Params("id")); err != nil {
		return notFound(c)
	}
	return h.deleteComment(c, sess)
}

// Calendar groups the user's records by upload day for one month. It is
// a one-shot read of the stored collection, not the session's optimistic
// view, so it goes through the synchronizer directly.
func (h *InspectionHandler) Calendar(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return unauthorized(c)
	}

	month := c.Query("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "month must be YYYY-MM",
		})
	}

	list, err := h.syn.LoadAll(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to load records",
		})
	}

	byDay := make(map[string][]records.Record)
	for _, rec := range list {
		t, err := time.Parse(time.RFC3339, rec.UploadDate)
		if err != nil {
			continue
		}
		day := t.UTC().Format("2006-01-02")
		if !strings.HasPrefix(day, month) {
			continue
		}
		byDay[day] = append(byDay[day], rec)
	}

	days := make([]dto.CalendarDay, 0, len(byDay))
	for day, recs := range byDay {
		days = append(days, dto.CalendarDay{Date: day, Records: recs})
	}
	sortCalendarDays(days)

	return c.JSON(dto.CalendarResponse{Month: month, Days: days})
}

// Watch streams the user's record collection as server-sent events: the
// current snapshot on connect, then one event per change.
func (h *InspectionHandler) Watch(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return unauthorized(c)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	syn := h.syn
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		snapshots := make(chan []records.Record, 1)
		unsub := syn.Subscribe(context.Background(), userID, func(snap []records.Record) {
			// Latest wins: a slow client skips intermediate snapshots.
			for {
				select {
				case snapshots <- snap:
					return
				default:
					select {
					case <-snapshots:
					default:
					}
				}
			}
		})
		defer unsub()

		// The keepalive also detects disconnects: a dead client fails
		// the flush and ends the stream.
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case snap := <-snapshots:
				payload, err := json.Marshal(snap)
				if err != nil {
					slog.Warn("watch snapshot marshal failed", "error", err)
					continue
				}
				if _, err := w.WriteString("data: " + string(payload) + "\n\n"); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

func (h *InspectionHandler) addDefect(c *fiber.Ctx, sess *session.Session) error {
	var patch records.DefectPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	id, err := sess.AddDefect(patch)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CreatedResponse{ID: id})
}

func (h *InspectionHandler) patchDefect(c *fiber.Ctx, sess *session.Session) error {
	var patch records.DefectPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}
	if err := sess.MutateDefect(c.Params("defect_id"), patch); err != nil {
		return notFound(c)
	}
	return c.JSON(fiber.Map{"message": "Defect updated"})
}

func (h *InspectionHandler) deleteDefect(c *fiber.Ctx, sess *session.Session) error {
	if err := sess.DeleteDefect(c.Params("defect_id")); err != nil {
		return notFound(c)
	}
	return c.JSON(fiber.Map{"message": "Defect deleted"})
}

func (h *InspectionHandler) addComment(c *fiber.Ctx, sess *session.Session) error {
	var req dto.CommentRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Comment text is required",
		})
	}
	id, err := sess.AddComment(req.Text)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CreatedResponse{ID: id})
}

func (h *InspectionHandler) deleteComment(c *fiber.Ctx, sess *session.Session) error {
	if err := sess.DeleteComment(c.Params("comment_id")); err != nil {
		return notFound(c)
	}
	return c.JSON(fiber.Map{"message": "Comment deleted"})
}

func hasDraft(sess *session.Session) bool {
	_, err := sess.Draft()
	return err == nil
}

func sortCalendarDays(days []dto.CalendarDay) {
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error: true, Message: "Unauthorized",
	})
}

func notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
		Error: true, Message: "Not found",
	})
}

func noDraft(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
		Error: true, Message: "No active draft",
	})
}

func draftInProgress(c *fiber.Ctx) error {
	return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
		Error: true, Message: "A draft is in progress. Commit or discard it first.",
	})
}
