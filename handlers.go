package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kartai/models"
	"kartai/pkg/cache"
	"kartai/pkg/deals"
	"kartai/pkg/ocr"
	"kartai/pkg/storage"
)

var (
	badRequest          = gin.H{"error": "bad request"}
	internalServerError = gin.H{"error": "internal server error"}
	notFound            = gin.H{"error": "not found"}
)

type serverConfig struct {
	Store   deals.Store
	Live    *deals.Live
	KV      cache.KV
	Scanner *ocr.Scanner
	Tasks   *ocr.Tasks
	Presets *ocr.PresetStore
	Objects storage.Storer
	// Signer is nil when objects are served from elsewhere.
	Signer    *storage.URLSigner
	MaxUpload int64
	// MaxScanPixels bounds the decoded size of photos sent for scanning.
	MaxScanPixels int
}

// multipartSlack covers form fields and part headers around the file.
const multipartSlack = 64 << 10

var tooLarge = gin.H{"error": "request too large"}

type Server struct {
	e *gin.Engine
	serverConfig
}

func newServer(c serverConfig) *Server {
	if c.MaxUpload <= 0 {
		c.MaxUpload = 10 << 20
	}
	if c.MaxScanPixels <= 0 {
		c.MaxScanPixels = 40_000_000
	}
	s := &Server{e: gin.New(), serverConfig: c}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.e.Use(gin.Logger(), gin.Recovery())
	s.e.Use(cors.Default())

	s.e.GET("/healthz", s.handleHealth)

	d := s.e.Group("/deals")
	d.GET("", s.handleListDeals)
	d.GET("/stream", s.handleStreamDeals)
	d.GET("/export.csv", s.handleExportDeals)
	d.POST("", s.handleCreateDeal)
	d.PATCH("/:id", s.handleUpdateDeal)
	d.DELETE("/:id", s.handleDeleteDeal)

	o := s.e.Group("/ocr")
	o.POST("/scan", s.handleScan)
	o.POST("/tasks", s.handleStartTask)
	o.GET("/tasks/:id", s.handleGetTask)
	o.DELETE("/tasks/:id", s.handleCancelTask)
	o.GET("/presets", s.handlePresets)

	s.e.POST("/uploads", s.handleUpload)
	s.e.DELETE("/uploads/*path", s.handleDeleteUpload)
	s.e.GET("/files/*path", s.handleGetFile)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": s.Live.Message()})
}

// viewOptions reads q/type/sort. Missing parameters fall back to the saved
// view state; the result is saved back.
func (s *Server) viewOptions(c *gin.Context) deals.ViewOptions {
	v := deals.LoadViewOptions(s.KV)
	if q, ok := c.GetQuery("q"); ok {
		v.Query = q
	}
	if t, ok := c.GetQuery("type"); ok {
		v.Type = deals.ParseTypeFilter(t)
	}
	if so, ok := c.GetQuery("sort"); ok {
		v.Sort = deals.ParseSortBy(so)
	}
	deals.SaveViewOptions(s.KV, v)
	return v
}

func (s *Server) handleListDeals(c *gin.Context) {
	v := s.viewOptions(c)
	c.JSON(http.StatusOK, gin.H{
		"deals":   deals.DeriveView(s.Live.Deals(), v),
		"view":    v,
		"message": s.Live.Message(),
	})
}

// handleStreamDeals pushes the derived view as server-sent events whenever
// the live list changes.
func (s *Server) handleStreamDeals(c *gin.Context) {
	v := s.viewOptions(c)
	updates, stop := s.Live.Watch()
	defer stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case list := <-updates:
			c.SSEvent("deals", gin.H{"deals": deals.DeriveView(list, v), "message": s.Live.Message()})
			return true
		}
	})
}

func (s *Server) handleExportDeals(c *gin.Context) {
	v := s.viewOptions(c)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="deals.csv"`)
	c.Status(http.StatusOK)
	if err := deals.ExportCSV(c.Writer, deals.DeriveView(s.Live.Deals(), v)); err != nil {
		log.Errorf("unable to export deals: %v", err)
	}
}

func (s *Server) handleCreateDeal(c *gin.Context) {
	var f deals.Form
	if err := c.ShouldBind(&f); err != nil {
		c.JSON(http.StatusBadRequest, badRequest)
		return
	}
	d, errs := f.Validate()
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
		return
	}
	var (
		id  string
		err error
	)
	if upsert, _ := strconv.ParseBool(c.Query("upsert")); upsert {
		id, err = s.Store.Upsert(c.Request.Context(), d)
	} else {
		id, err = s.Store.Create(c.Request.Context(), d)
	}
	if err != nil {
		s.writeDealError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleUpdateDeal(c *gin.Context) {
	var p deals.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, badRequest)
		return
	}
	if err := s.Store.Update(c.Request.Context(), c.Param("id"), p); err != nil {
		s.writeDealError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteDeal(c *gin.Context) {
	if err := s.Store.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.writeDealError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeDealError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, deals.ErrNotFound):
		c.JSON(http.StatusNotFound, notFound)
	case errors.Is(err, models.ErrInvalidDeal):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, internalServerError)
	}
}

type ocrInput struct {
	img  image.Image
	opts ocr.ScanOptions
}

// scanRequest decodes the multipart image and resolves the scan options,
// either from a named preset or from mode and yOffset.
// limitBody caps the request body at the upload limit. It reports false,
// having answered 413, when the declared length is already over it.
func (s *Server) limitBody(c *gin.Context) bool {
	limit := s.MaxUpload + multipartSlack
	if c.Request.ContentLength > limit {
		c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
		return false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return true
}

// formFile reads a multipart file field after limitBody.
func (s *Server) formFile(c *gin.Context, field string) ([]byte, string, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": field + " missing"})
		}
		return nil, "", false
	}
	if fh.Size > s.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
		return nil, "", false
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, badRequest)
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.MaxUpload+1))
	if err != nil || int64(len(data)) > s.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
		return nil, "", false
	}
	return data, fh.Filename, true
}

func (s *Server) scanRequest(c *gin.Context) (*ocrInput, bool) {
	if !s.limitBody(c) {
		return nil, false
	}
	data, _, ok := s.formFile(c, "image")
	if !ok {
		return nil, false
	}
	// check dimensions before allocating the decoded image
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image"})
		return nil, false
	}
	if cfg.Width*cfg.Height > s.MaxScanPixels {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image dimensions too large"})
		return nil, false
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image"})
		return nil, false
	}

	var opts ocr.ScanOptions
	if id := c.PostForm("preset"); id != "" {
		p, ok := s.Presets.Get(id)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preset " + id})
			return nil, false
		}
		opts = p.ScanOptions()
	} else {
		opts.Mode = ocr.ParseMode(c.PostForm("mode"))
		opts.DualBand = opts.Mode == ocr.ModeGas
	}
	if y := c.PostForm("yOffset"); y != "" {
		v, err := strconv.ParseFloat(y, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid yOffset"})
			return nil, false
		}
		opts.YOffset = v
	}
	return &ocrInput{img: img, opts: opts}, true
}

func (s *Server) handleScan(c *gin.Context) {
	in, ok := s.scanRequest(c)
	if !ok {
		return
	}
	res, err := s.Scanner.Scan(c.Request.Context(), in.img, in.opts)
	if err != nil {
		if errors.Is(err, ocr.ErrEmptyROI) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("unable to scan: %v", err)
		c.JSON(http.StatusInternalServerError, internalServerError)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleStartTask runs the scan in the background; the request context only
// covers the upload.
func (s *Server) handleStartTask(c *gin.Context) {
	in, ok := s.scanRequest(c)
	if !ok {
		return
	}
	t := ocr.StartTask(context.Background(), s.Scanner, in.img, in.opts)
	s.Tasks.Add(t)
	c.JSON(http.StatusAccepted, gin.H{"id": t.ID})
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, ok := s.Tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, notFound)
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

func (s *Server) handleCancelTask(c *gin.Context) {
	t, ok := s.Tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, notFound)
		return
	}
	t.Cancel()
	s.Tasks.Remove(t.ID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePresets(c *gin.Context) {
	cfg, err := s.Presets.Snapshot()
	resp := gin.H{"images": cfg.Images, "presets": cfg.Presets}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUpload(c *gin.Context) {
	if !s.limitBody(c) {
		return
	}
	data, filename, ok := s.formFile(c, "file")
	if !ok {
		return
	}

	ct := mime.TypeByExtension(strings.ToLower(path.Ext(filename)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	p := storage.ObjectPath("deals", filename, time.Now())
	obj, err := s.Objects.Upload(c.Request.Context(), p, bytes.NewReader(data), storage.UploadOptions{
		ContentType: ct,
		Size:        int64(len(data)),
		Progress: func(u storage.ProgressUpdate) {
			log.Debugf("upload %s: %d%%", p, u.Percent)
		},
	})
	if err != nil {
		log.Errorf("unable to upload %s: %v", p, err)
		c.JSON(http.StatusInternalServerError, internalServerError)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (s *Server) handleDeleteUpload(c *gin.Context) {
	p := strings.TrimPrefix(c.Param("path"), "/")
	if err := s.Objects.Delete(c.Request.Context(), p); err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			c.JSON(http.StatusBadRequest, badRequest)
			return
		}
		log.Errorf("unable to delete %s: %v", p, err)
		c.JSON(http.StatusInternalServerError, internalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleGetFile serves fs-stored objects to holders of a signed URL.
func (s *Server) handleGetFile(c *gin.Context) {
	if s.Signer == nil {
		c.JSON(http.StatusNotFound, notFound)
		return
	}
	p := strings.TrimPrefix(c.Param("path"), "/")
	if err := s.Signer.Verify(p, c.Query("token")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	rc, err := s.Objects.Open(c.Request.Context(), p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidPath) {
			c.JSON(http.StatusNotFound, notFound)
			return
		}
		log.Errorf("unable to open %s: %v", p, err)
		c.JSON(http.StatusInternalServerError, internalServerError)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(p))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Type", ct)
	c.Header("Cache-Control", "private, max-age=3600")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Errorf("unable to copy: %v", err)
	}
}
