// Package api exposes read-only container inspection over HTTP: listing
// containers in a directory, reporting their manifests and checksum
// indexes, and re-verifying section digests on demand.
package api

import (
	"encoding/hex"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/wtnt/internal/logger"
)

type Server struct {
	store *ContainerStore
	log   logger.Logger
}

func NewServer(store *ContainerStore, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{store: store, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/models/:id/manifest", s.handleManifest)
	e.GET("/v1/models/:id/checksums", s.handleChecksums)
	e.POST("/v1/models/:id/verify", s.handleVerify)
}

func (s *Server) handleListModels(c *echo.Context) error {
	names, err := s.store.List()
	if err != nil {
		return writeServerError(c, err.Error())
	}
	out := ModelList{Object: "list", Data: make([]ModelInfo, 0, len(names))}
	for _, name := range names {
		out.Data = append(out.Data, ModelInfo{ID: name, Object: "model"})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleManifest(c *echo.Context) error {
	id := c.Param("id")
	f, err := s.store.Get(id)
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	cfg := f.Config()
	return c.JSON(http.StatusOK, Manifest{
		Object:           "model.manifest",
		Model:            id,
		Version:          f.Header.Version,
		FileSize:         int64(len(f.Data)),
		NumLayers:        cfg.NumLayers,
		HiddenSize:       cfg.HiddenSize,
		NumHeads:         cfg.NumHeads,
		VocabSize:        cfg.VocabSize,
		MaxSeqLen:        cfg.MaxSeqLen,
		IntermediateSize: cfg.IntermediateSize,
		SectionCount:     len(f.Checksums),
	})
}

func (s *Server) handleChecksums(c *echo.Context) error {
	id := c.Param("id")
	f, err := s.store.Get(id)
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	out := ChecksumList{
		Object: "list",
		Model:  id,
		Data:   make([]ChecksumEntry, 0, len(f.Checksums)),
	}
	for _, e := range f.Checksums {
		out.Data = append(out.Data, ChecksumEntry{
			Name:   e.Name,
			SHA256: hex.EncodeToString(e.Digest[:]),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleVerify(c *echo.Context) error {
	id := c.Param("id")
	f, err := s.store.Get(id)
	if err != nil {
		return writeNotFound(c, err.Error())
	}

	s.log.Info("verifying container", "model", id)
	res := VerifyResult{
		Object: "model.verification",
		Model:  id,
		OK:     true,
	}
	for _, check := range f.VerifySections() {
		if !check.OK {
			res.OK = false
			s.log.Warn("section digest mismatch", "model", id, "section", check.Name)
		}
		res.Sections = append(res.Sections, SectionResult{Name: check.Name, OK: check.OK})
	}
	return c.JSON(http.StatusOK, res)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeServerError(c *echo.Context, msg string) error {
	return writeError(c, http.StatusInternalServerError, "server_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}
