package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/orchestrator"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/session"
	"github.com/dunamismax/bitwear/internal/storage"
)

const uploadField = "image"

var errUploadTooLarge = domain.NewError(domain.KindDecode, "upload", "image exceeds the upload limit", nil)

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("session_id", sess.ID).Msg("session created")
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.attempts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"attempts": []any{}})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.attempts.ListBySession(r.Context(), sess.ID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("list attempts failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to load attempts"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": records})
}

// readUpload pulls the multipart image field, bounded by the upload limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", errUploadTooLarge
		}
		return nil, "", domain.NewError(domain.KindDecode, "upload", fmt.Sprintf("multipart field %q is required", uploadField), err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		return nil, "", domain.NewError(domain.KindDecode, "upload", "read upload", err)
	}
	return data, header.Header.Get("Content-Type"), nil
}

func (s *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	data, mime, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.acceptSource(r.Context(), w, sess, data, mime)
}

func (s *Server) acceptSource(ctx context.Context, w http.ResponseWriter, sess *session.Session, data []byte, mime string) {
	src, err := pipeline.PrepareSource(ctx, s.transformer, data, mime, s.maxUploadBytes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess.SetSource(src)
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("mime", src.MimeType).
		Int("width", src.Width).
		Int("height", src.Height).
		Msg("source accepted")
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.ClearSource()
	if s.storage != nil {
		if err := s.storage.RemoveObject(r.Context(), storage.SourceKey(sess.ID)); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("remove uploaded source failed")
		}
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handlePresignSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.storage == nil {
		s.writeError(w, errStorageUnavailable)
		return
	}

	key := storage.SourceKey(sess.ID)
	url, err := s.storage.PresignedPutURL(r.Context(), key, s.presignTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("generate presigned url failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to generate upload URL"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object_key":        key,
		"presigned_put_url": url,
		"expires_in":        int(s.presignTTL.Seconds()),
		"commit_url":        fmt.Sprintf("/v1/sessions/%s/source/commit", sess.ID),
	})
}

func (s *Server) handleCommitSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.storage == nil {
		s.writeError(w, errStorageUnavailable)
		return
	}

	key := storage.SourceKey(sess.ID)
	info, exists, err := s.storage.Stat(r.Context(), key)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("source object check failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "source object check failed"})
		return
	}
	if !exists {
		writeJSON(w, http.StatusConflict, errorBody{Error: "source object is missing: " + key, Recovery: domain.RecoveryGoBack})
		return
	}
	if info.Size > s.maxUploadBytes {
		s.writeError(w, errUploadTooLarge)
		return
	}

	fetcher := pipeline.ObjectStoreFetcher{Storage: s.storage, MaxBytes: s.maxUploadBytes}
	data, err := fetcher.Fetch(r.Context(), pipeline.Request{
		Key:        sess.ID,
		SourceType: pipeline.SourceTypeObject,
		ObjectKey:  key,
	})
	switch {
	case errors.Is(err, storage.ErrObjectTooLarge):
		s.writeError(w, errUploadTooLarge)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("read source object failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to read source object"})
		return
	}
	s.acceptSource(r.Context(), w, sess, data, info.ContentType)
}

type convertRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.startAttempt(w, r, func(ctx context.Context, o *orchestrator.Orchestrator, src domain.SourceImage) (*orchestrator.Attempt, error) {
		return o.Start(ctx, src, req.Mode)
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	s.startAttempt(w, r, func(ctx context.Context, o *orchestrator.Orchestrator, src domain.SourceImage) (*orchestrator.Attempt, error) {
		return o.Regenerate(ctx, src)
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.startAttempt(w, r, func(ctx context.Context, o *orchestrator.Orchestrator, src domain.SourceImage) (*orchestrator.Attempt, error) {
		return o.Retry(ctx, src)
	})
}

type startFunc func(ctx context.Context, o *orchestrator.Orchestrator, src domain.SourceImage) (*orchestrator.Attempt, error)

// startAttempt answers 202 with the snapshot, or blocks until the attempt
// finishes when ?wait=1 is set.
func (s *Server) startAttempt(w http.ResponseWriter, r *http.Request, start startFunc) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	src, ok := sess.Source()
	if !ok {
		s.writeError(w, orchestrator.ErrNoSource)
		return
	}

	attempt, err := start(r.Context(), sess.Orchestrator(), src)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("attempt_id", attempt.ID).
		Str("mode", attempt.Mode).
		Msg("conversion attempt started")

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if _, err := attempt.Wait(r.Context()); err != nil {
			writeJSON(w, http.StatusAccepted, sess.Snapshot())
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	art, err := sess.Orchestrator().Approve()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.persistArtifact(r.Context(), sess, art)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handlePutArtifact(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	data, mime, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	img, err := pipeline.PrepareSource(r.Context(), s.transformer, data, mime, s.maxUploadBytes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	art, err := sess.Orchestrator().SupplyOwn(img.EncodedImage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.persistArtifact(r.Context(), sess, art)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// persistArtifact stores the committed artifact through the emitter and
// records its reference on the session. Failures leave the artifact usable
// from memory.
func (s *Server) persistArtifact(ctx context.Context, sess *session.Session, art domain.Artifact) {
	if s.emitter == nil {
		return
	}
	out, err := s.emitter.Emit(ctx, pipeline.Request{Key: sess.ID}, "pixel-art", art.Data,
		pipeline.FormatForMime(art.MimeType), art.Width, art.Height)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("persist artifact failed")
		return
	}
	sess.SetArtifactRef(out.Path)
	s.logger.Info().
		Str("session_id", sess.ID).
		Str("artifact_ref", out.Path).
		Bool("user_supplied", art.UserSupplied).
		Msg("artifact committed")
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	img, ok := sess.Orchestrator().Candidate()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: orchestrator.ErrNoCandidate.Error()})
		return
	}
	writeImage(w, img)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	art, ok := sess.Orchestrator().Artifact()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no approved pixel art"})
		return
	}
	writeImage(w, art.EncodedImage)
}
