// Package gzippedhttp compresses successful JSON and text responses for
// clients that accept gzip, and inflates gzip encoded request bodies.
package gzippedhttp

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/patric-chuzhbe/sessionauth/internal/logger"
)

var writerPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

type compressedReader struct {
	body io.ReadCloser
	zr   *gzip.Reader
}

func newCompressedReader(body io.ReadCloser) (*compressedReader, error) {
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}

	return &compressedReader{body: body, zr: zr}, nil
}

func (c *compressedReader) Read(p []byte) (int, error) {
	return c.zr.Read(p)
}

func (c *compressedReader) Close() error {
	if err := c.zr.Close(); err != nil {
		return err
	}
	return c.body.Close()
}

// compressedResponseWriter decides whether to compress when the status is
// written, since only then are the status and Content-Type known.
type compressedResponseWriter struct {
	http.ResponseWriter
	zw          *gzip.Writer
	wroteHeader bool
}

func (c *compressedResponseWriter) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true

	if compressible(statusCode, c.Header().Get("Content-Type")) {
		c.Header().Set("Content-Encoding", "gzip")
		c.Header().Add("Vary", "Accept-Encoding")
		c.Header().Del("Content-Length")

		c.zw = writerPool.Get().(*gzip.Writer)
		c.zw.Reset(c.ResponseWriter)
	}

	c.ResponseWriter.WriteHeader(statusCode)
}

func (c *compressedResponseWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if c.zw == nil {
		return c.ResponseWriter.Write(p)
	}
	return c.zw.Write(p)
}

func (c *compressedResponseWriter) Close() error {
	if c.zw == nil {
		return nil
	}
	defer writerPool.Put(c.zw)

	return c.zw.Close()
}

func compressible(statusCode int, contentType string) bool {
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices || statusCode == http.StatusNoContent {
		return false
	}

	return strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

// Middleware inflates requests sent with Content-Encoding: gzip and
// compresses the response when the client sent Accept-Encoding: gzip.
func Middleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(response http.ResponseWriter, request *http.Request) {
		if strings.Contains(request.Header.Get("Content-Encoding"), "gzip") {
			body, err := newCompressedReader(request.Body)
			if err != nil {
				logger.Log.Debugln("Error calling the `newCompressedReader()`: ", err)
				response.WriteHeader(http.StatusBadRequest)
				return
			}
			request.Body = body
			defer body.Close()
		}

		if !strings.Contains(request.Header.Get("Accept-Encoding"), "gzip") {
			h.ServeHTTP(response, request)
			return
		}

		compressed := &compressedResponseWriter{ResponseWriter: response}
		defer func() {
			if err := compressed.Close(); err != nil {
				logger.Log.Debugln("Error calling the `compressed.Close()`: ", err)
			}
		}()

		h.ServeHTTP(compressed, request)
	})
}
