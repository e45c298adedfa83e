package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fittracker/fitgate/internal/forwarder"
	"github.com/fittracker/fitgate/pkg/middleware"
)

// errorKind はゲートウェイが呼び出し元に返す失敗の種類。
type errorKind int

const (
	kindUnknownService errorKind = iota + 1
	kindBadRequest
	kindBodyTooLarge
	kindUpstream
	kindInternal
)

// status は失敗の種類に対応するHTTPステータスを返す。
func (k errorKind) status() int {
	switch k {
	case kindUnknownService, kindBadRequest:
		return http.StatusBadRequest
	case kindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// 呼び出し元に返すエラーメッセージ。
const (
	msgInvalidServicePrefix = "Invalid service name: "
	msgMalformedRequest     = "Malformed request"
	msgBodyTooLarge         = "Request body too large"
	msgUpstreamError        = "Upstream service error"
	msgInternalError        = "Internal server error"
)

// abort は失敗の種類に応じたJSONエラーを返して処理を中断する。
func (s *Server) abort(c *gin.Context, kind errorKind, message string, err error) {
	if err != nil {
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		}
		if kind.status() >= http.StatusInternalServerError {
			s.logger.Error("リクエストの処理に失敗", fields...)
		} else {
			s.logger.Debug("リクエストを拒否", fields...)
		}
		_ = c.Error(err)
	}
	middleware.AbortWithError(c, kind.status(), message)
}

// abortForwardError は転送処理のエラーを呼び出し元向けのエラーに変換する。
func (s *Server) abortForwardError(c *gin.Context, service string, err error) {
	var fe *forwarder.Error
	if !errors.As(err, &fe) {
		s.abort(c, kindInternal, msgInternalError, err)
		return
	}
	switch fe.Kind {
	case forwarder.KindUnknownService:
		s.abort(c, kindUnknownService, msgInvalidServicePrefix+service, err)
	case forwarder.KindUpstream:
		s.abort(c, kindUpstream, msgUpstreamError, err)
	default:
		s.abort(c, kindInternal, msgInternalError, err)
	}
}
