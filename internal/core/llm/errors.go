package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/policyqa/internal/core"
)

// classifyStatus maps an HTTP status onto the provider error taxonomy.
func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", core.ErrRateLimited, err)
	case code >= 500:
		return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge, code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	return err
}

// classifyGoogle normalizes REST and gRPC errors from the Gemini client.
func classifyGoogle(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(gerr.Code, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return fmt.Errorf("%w: %w", core.ErrRateLimited, err)
		case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.Aborted:
			return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
		case codes.InvalidArgument, codes.FailedPrecondition:
			return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
	}
	return classifyMessage(err)
}

func classifyOpenAI(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}
	return classifyMessage(err)
}

// classifyMessage is the last resort for errors that carry no status.
func classifyMessage(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %w", core.ErrRateLimited, err)
	case strings.Contains(msg, "internal server error") || strings.Contains(msg, "server_error") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "502"):
		return fmt.Errorf("%w: %w", core.ErrProviderUnavailable, err)
	}
	return err
}
