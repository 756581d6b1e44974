package server

import (
	"context"
	"encoding/json"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// handleComplete answers completion/complete: it locates the
// completable field of the referenced prompt or resource template,
// invokes its provider, and returns the capped suggestion list.
func (s *Server) handleComplete(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.CompleteParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed completion/complete params: %v", err)
	}

	var completer Completer

	switch params.Ref.Type {
	case protocol.CompleteRefPrompt:
		s.mu.Lock()
		rp, ok := s.prompts[params.Ref.Name]
		if ok {
			completer = rp.completions[params.Argument.Name]
		}
		s.mu.Unlock()
		if !ok {
			return nil, mcperrors.PromptNotFound(params.Ref.Name)
		}

	case protocol.CompleteRefResource:
		// The reference carries the template's pattern verbatim, so
		// lookup is a literal comparison, not a URI template match.
		s.mu.Lock()
		var found bool
		for _, name := range s.templateOrder {
			rt := s.templates[name]
			if rt.descriptor.URITemplate == params.Ref.URI {
				completer = rt.completions[params.Argument.Name]
				found = true
				break
			}
		}
		s.mu.Unlock()
		if !found {
			return nil, mcperrors.ResourceNotFound(params.Ref.URI)
		}

	default:
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"unknown completion reference type %q", params.Ref.Type)
	}

	// A field with no provider completes to nothing.
	if completer == nil {
		return &protocol.CompleteResult{
			Completion: protocol.Completion{Values: []string{}},
		}, nil
	}

	values, err := completer(ctx, params.Argument.Value)
	if err != nil {
		return nil, mcperrors.WrapInternal(
			fmt.Sprintf("completion of %q", params.Argument.Name), err)
	}

	return &protocol.CompleteResult{Completion: capCompletion(values)}, nil
}

// capCompletion truncates a suggestion list to the protocol limit
// while reporting the uncapped total.
func capCompletion(values []string) protocol.Completion {
	total := len(values)
	if total > protocol.MaxCompletionValues {
		values = values[:protocol.MaxCompletionValues]
	}
	if values == nil {
		values = []string{}
	}
	return protocol.Completion{
		Values:  values,
		Total:   total,
		HasMore: total > protocol.MaxCompletionValues,
	}
}
