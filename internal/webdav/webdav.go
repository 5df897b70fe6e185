// Copyright 2026 The rclonepool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webdav implements the WebDAV frontend (C13): one handler per
// request, borrowing (never owning) a *pool.Engine, grounded on the
// method-per-file layout of cs3org/reva's ocdav service.
package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/internal/httpauth"
	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/pool"
)

// Handler serves WebDAV over one *pool.Engine.
type Handler struct {
	engine  *pool.Engine
	auth    *httpauth.Authenticator
	tempDir string
	log     zerolog.Logger
}

// New builds a Handler.
func New(engine *pool.Engine, auth *httpauth.Authenticator, tempDir string, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, auth: auth, tempDir: tempDir, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Authenticate(r); !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="rclonepool"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		h.handleOptions(w)
	case http.MethodHead:
		h.handleHead(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPut:
		h.handlePut(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case "MKCOL":
		h.handleMkcol(w)
	case "MOVE":
		h.handleMove(w, r)
	case "PROPFIND":
		h.handlePropfind(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleOptions(w http.ResponseWriter) {
	w.Header().Set("Allow", "OPTIONS,GET,HEAD,PUT,DELETE,PROPFIND,MKCOL,MOVE")
	w.Header().Set("DAV", "1, 2")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.engine.Store().Load(ctx, r.URL.Path)
	if err == nil {
		w.Header().Set("Content-Length", strconv.FormatUint(m.FileSize, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", guessContentType(m.FileName))
		w.Header().Set("Last-Modified", unixToHTTPDate(m.CreatedAt))
		w.WriteHeader(http.StatusOK)
		return
	}
	if h.looksLikeDirectory(ctx, r.URL.Path) {
		w.Header().Set("Content-Type", "httpd/unix-directory")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.NotFound(w, r)
}

// looksLikeDirectory reports whether path should be treated as a
// collection for HEAD purposes (GET does not consult it). Collections are virtual (spec
// §4.13: "directories are virtual; no state"), so this is a heuristic
// rather than a real stat: the root always counts, and any other path
// counts if it has at least one manifest filed under it.
func (h *Handler) looksLikeDirectory(ctx context.Context, p string) bool {
	if p == "" || p == "/" {
		return true
	}
	summaries, err := h.engine.Ls(ctx, p)
	if err != nil {
		return false
	}
	return len(summaries) > 0
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.engine.Store().Load(ctx, r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Type", guessContentType(m.FileName))
		w.Header().Set("Content-Length", strconv.FormatUint(m.FileSize, 10))
		data, err := h.engine.DownloadRange(ctx, r.URL.Path, 0, m.FileSize)
		if err != nil {
			h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("webdav GET failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data) // client may disconnect mid-stream; ignore write errors
		return
	}

	start, end, ok := parseRange(rangeHeader, m.FileSize)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", m.FileSize))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	length := end - start + 1
	data, err := h.engine.DownloadRange(ctx, r.URL.Path, start, length)
	if err != nil {
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("webdav ranged GET failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, m.FileSize))
	w.Header().Set("Content-Length", strconv.FormatUint(length, 10))
	w.Header().Set("Content-Type", guessContentType(m.FileName))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data)
}

// parseRange parses a single "bytes=a-b" | "bytes=a-" | "bytes=-n"
// range spec, clamping end to size-1, per spec §4.13.
func parseRange(spec string, size uint64) (start, end uint64, ok bool) {
	spec = strings.TrimPrefix(spec, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if parts[0] == "" {
		n, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil || n == 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		start = size - n
		end = size - 1
	} else {
		s, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		start = s
		if parts[1] == "" {
			end = size - 1
		} else {
			e, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				return 0, 0, false
			}
			end = e
		}
	}
	if end > size-1 {
		end = size - 1
	}
	if start >= size || start > end {
		return 0, 0, false
	}
	return start, end, true
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength < 0 {
		http.Error(w, "Content-Length required", http.StatusLengthRequired)
		return
	}

	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	tmp, err := os.CreateTemp(h.tempDir, "put-*")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := copyN(tmp, r.Body, r.ContentLength); err != nil {
		http.Error(w, "failed reading body", http.StatusBadRequest)
		return
	}
	tmp.Close()

	if err := h.engine.Upload(r.Context(), tmp.Name(), r.URL.Path); err != nil {
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("webdav PUT failed")
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func copyN(dst io.Writer, src io.Reader, n int64) (int64, error) {
	written, err := io.CopyN(dst, src, n)
	if err == io.EOF {
		err = nil
	}
	return written, err
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), r.URL.Path); err != nil {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMkcol(w http.ResponseWriter) {
	// Directories are virtual: no on-disk or manifest state, per spec §4.13.
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	unlockSrc := h.engine.LockPath(r.URL.Path)
	defer unlockSrc()

	m, err := h.engine.Store().Load(ctx, r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	dest := r.Header.Get("Destination")
	if dest == "" {
		http.Error(w, "Destination header required", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(dest)
	if err != nil {
		http.Error(w, "invalid Destination", http.StatusBadRequest)
		return
	}

	if u.Path != r.URL.Path {
		unlockDst := h.engine.LockPath(u.Path)
		defer unlockDst()
	}

	remoteDir, fileName := manifest.SplitRemotePath(u.Path, m.FileName)
	oldPath := m.FilePath
	m.RemoteDir = remoteDir
	m.FileName = fileName
	m.FilePath = manifest.JoinFilePath(remoteDir, fileName)

	if err := h.engine.Store().Save(ctx, m); err != nil {
		http.Error(w, "move failed", http.StatusInternalServerError)
		return
	}
	if oldPath != m.FilePath {
		_ = h.engine.Store().Delete(ctx, oldPath)
	}
	w.WriteHeader(http.StatusCreated)
}

func guessContentType(name string) string {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func unixToHTTPDate(unixSeconds float64) string {
	return time.Unix(int64(unixSeconds), 0).UTC().Format(http.TimeFormat)
}

// --- PROPFIND ---

type propstat struct {
	ResourceType    *resourceType `xml:"d:resourcetype"`
	ContentLength   *uint64       `xml:"d:getcontentlength"`
	ContentType     string        `xml:"d:getcontenttype,omitempty"`
	LastModified    string        `xml:"d:getlastmodified,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"d:collection"`
}

type responseXML struct {
	XMLName  xml.Name `xml:"d:response"`
	Href     string   `xml:"d:href"`
	Propstat struct {
		Prop   propstat `xml:"d:prop"`
		Status string   `xml:"d:status"`
	} `xml:"d:propstat"`
}

type multistatusXML struct {
	XMLName   xml.Name      `xml:"d:multistatus"`
	XmlnsD    string        `xml:"xmlns:d,attr"`
	Responses []responseXML `xml:"d:response"`
}

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	depth := r.Header.Get("Depth")
	if depth == "" {
		depth = "1"
	}

	dir := r.URL.Path
	var responses []responseXML
	responses = append(responses, collectionResponse(dir))

	if depth != "0" {
		summaries, err := h.engine.Ls(ctx, dir)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, s := range summaries {
			responses = append(responses, fileResponse(s))
		}
	}

	ms := multistatusXML{XmlnsD: "DAV:", Responses: responses}
	body, err := xml.MarshalIndent(ms, "", "  ")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func collectionResponse(dir string) responseXML {
	var resp responseXML
	resp.Href = dir
	resp.Propstat.Status = "HTTP/1.1 200 OK"
	resp.Propstat.Prop.ResourceType = &resourceType{Collection: &struct{}{}}
	return resp
}

func fileResponse(s pool.Summary) responseXML {
	var resp responseXML
	resp.Href = s.Path
	resp.Propstat.Status = "HTTP/1.1 200 OK"
	size := s.Size
	resp.Propstat.Prop.ContentLength = &size
	resp.Propstat.Prop.ContentType = guessContentType(s.Name)
	return resp
}
