package http

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/auth"
	"github.com/fyrsmithlabs/docqa/internal/documents"
	"github.com/fyrsmithlabs/docqa/internal/llm"
)

func currentUser(c echo.Context) (int64, error) {
	id, ok := auth.UserID(c)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "Missing auth token")
	}
	return id, nil
}

func bindJSON(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	return nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid id")
	}
	return id, nil
}

func (s *Server) handleRegister(c echo.Context) error {
	var req CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	session, err := s.services.Accounts.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	session, err := s.services.Accounts.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) handleLogout(c echo.Context) error {
	if err := s.services.Accounts.Logout(c.Request().Context(), auth.Token(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handleProfile(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	user, err := s.services.Accounts.Profile(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) handleDeleteAccount(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var req DeleteAccountRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if err := s.services.Accounts.DeleteAccount(c.Request().Context(), userID, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handleUpload(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return documents.ErrNoFiles
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := s.services.Documents.Upload(c.Request().Context(), userID, documents.Upload{Filename: fh.Filename, Body: f})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleUploadBatch(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return documents.ErrNoFiles
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return documents.ErrNoFiles
	}

	uploads := make([]documents.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		files = append(files, f)
		uploads = append(uploads, documents.Upload{Filename: fh.Filename, Body: f})
	}

	docs, err := s.services.Documents.UploadBatch(c.Request().Context(), userID, uploads)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	docs, err := s.services.Documents.List(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentResponse{ID: d.ID, Filename: d.Filename, Size: d.Size, CreatedAt: d.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.services.Documents.Delete(c.Request().Context(), userID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handleDownload(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	doc, f, err := s.services.Documents.Open(c.Request().Context(), userID, id)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	// ServeContent picks the content type from the filename extension.
	http.ServeContent(c.Response(), c.Request(), doc.Filename, info.ModTime(), f)
	return nil
}

func (s *Server) handleJob(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	job, err := s.services.Jobs.Get(userID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func askRequest(c echo.Context) (answer.Request, error) {
	userID, err := currentUser(c)
	if err != nil {
		return answer.Request{}, err
	}
	var body AskRequest
	if err := bindJSON(c, &body); err != nil {
		return answer.Request{}, err
	}
	if body.TopK < 0 {
		return answer.Request{}, echo.NewHTTPError(http.StatusBadRequest, "top_k must be positive")
	}
	return answer.Request{
		UserID:      userID,
		Question:    body.Question,
		TopK:        body.TopK,
		PrevContext: body.PrevContext,
		History:     llm.NormalizeHistory(body.History),
	}, nil
}

func (s *Server) handleAsk(c echo.Context) error {
	req, err := askRequest(c)
	if err != nil {
		return err
	}
	res, err := s.services.Answers.Answer(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AskResponse{Answer: res.Answer, Sources: res.Sources})
}

// handleAskStream writes answer fragments as plain text, flushing after
// each. Errors before the first byte get a normal error response; later
// errors end the body early.
func (s *Server) handleAskStream(c echo.Context) error {
	req, err := askRequest(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	stream, err := s.services.Answers.AnswerStream(ctx, req)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Answer-Path", string(stream.Path))
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for fragment, err := range stream.Fragments {
		if err != nil {
			if !errors.Is(err, ctx.Err()) {
				s.logger.Error(ctx, "answer stream failed", zap.Error(err))
			}
			return nil
		}
		if _, err := io.WriteString(w, fragment); err != nil {
			s.logger.Debug(ctx, "client went away mid-stream", zap.Error(err))
			return nil
		}
		w.Flush()
	}
	return nil
}
