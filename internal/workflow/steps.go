package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/torosent/crudfire/internal/pool"
)

// ReasonBodyTruncated marks a check that could not run because the response
// body exceeded the transport's read limit.
const ReasonBodyTruncated = "response body truncated"

func (e *Executor) newUser(vu int) map[string]string {
	ms := e.now().UnixMilli()
	return map[string]string{
		e.cfg.NameField: fmt.Sprintf("User_%d_%d", vu, ms),
		"email":         fmt.Sprintf("user_%d_%d@test.com", vu, ms),
	}
}

func (e *Executor) updatedUser() map[string]string {
	ms := e.now().UnixMilli()
	return map[string]string{
		e.cfg.NameField: fmt.Sprintf("Updated_%d", ms),
		"email":         fmt.Sprintf("updated_%d@test.com", ms),
	}
}

// create posts a new resource and pushes its id into the pool.
func (e *Executor) create(ctx context.Context, vu int) (pool.ID, error) {
	resp, ok, err := e.attempt(ctx, StepCreate, http.MethodPost, e.collectionURL(), e.newUser(vu))
	if !ok {
		return "", err
	}

	fail := func(reason string, cause error) (pool.ID, error) {
		failure := &StepError{Step: StepCreate, Status: resp.Status, Reason: reason, Err: cause}
		e.record(StepCreate, resp, true, failure)
		return "", failure
	}

	if resp.Status != e.cfg.CreateStatus {
		return fail(fmt.Sprintf("expected status %d", e.cfg.CreateStatus), nil)
	}
	if resp.Truncated {
		return fail(ReasonBodyTruncated, nil)
	}
	id := resourceID(gjson.GetBytes(resp.Body, "id"))
	if id == "" {
		return fail("response has no id", nil)
	}
	if err := e.ids.Push(id); err != nil {
		return fail("id not accepted", err)
	}
	e.record(StepCreate, resp, true, nil)
	return id, nil
}

// list fetches the collection and looks for the id created by this iteration.
func (e *Executor) list(ctx context.Context, created pool.ID) error {
	resp, ok, err := e.attempt(ctx, StepList, http.MethodGet, e.collectionURL(), nil)
	if !ok {
		return err
	}

	var failure *StepError
	switch doc := gjson.ParseBytes(resp.Body); {
	case resp.Status != e.cfg.ListStatus:
		failure = &StepError{Reason: fmt.Sprintf("expected status %d", e.cfg.ListStatus)}
	case resp.Truncated:
		failure = &StepError{Reason: ReasonBodyTruncated}
	case !doc.IsArray():
		failure = &StepError{Reason: "response is not an array"}
	case !containsID(doc, created):
		failure = &StepError{Reason: fmt.Sprintf("created id %s not listed", created)}
	}
	return e.finish(StepList, resp, failure)
}

// update renames a random pooled resource and checks the echoed name.
func (e *Executor) update(ctx context.Context) error {
	id, found := e.ids.PickRandom()
	if !found {
		return nil
	}
	payload := e.updatedUser()
	resp, ok, err := e.attempt(ctx, StepUpdate, http.MethodPut, e.itemURL(id), payload)
	if !ok {
		return err
	}

	var failure *StepError
	switch {
	case resp.Status != e.cfg.UpdateStatus:
		failure = &StepError{Reason: fmt.Sprintf("expected status %d", e.cfg.UpdateStatus)}
	case resp.Truncated:
		failure = &StepError{Reason: ReasonBodyTruncated}
	case fieldString(resp.Body, e.cfg.NameField) != payload[e.cfg.NameField]:
		failure = &StepError{Reason: e.cfg.NameField + " not updated"}
	}
	return e.finish(StepUpdate, resp, failure)
}

// remove pops the most recently created id and deletes it. The id is retired
// whatever the outcome.
func (e *Executor) remove(ctx context.Context) error {
	id, found := e.ids.PopLatest()
	if !found {
		return nil
	}
	resp, ok, err := e.attempt(ctx, StepDelete, http.MethodDelete, e.itemURL(id), nil)
	if !ok {
		return err
	}

	var failure *StepError
	if resp.Status != e.cfg.DeleteStatus {
		failure = &StepError{Reason: fmt.Sprintf("expected status %d", e.cfg.DeleteStatus)}
	}
	return e.finish(StepDelete, resp, failure)
}

func (e *Executor) finish(step string, resp Response, failure *StepError) error {
	if failure == nil {
		e.record(step, resp, true, nil)
		return nil
	}
	failure.Step = step
	failure.Status = resp.Status
	e.record(step, resp, true, failure)
	return failure
}

// resourceID renders a JSON id as a pool.ID. Integer literals are kept
// verbatim so ids beyond float64 precision survive; 7, 7.0 and "7" all map to
// the same id.
func resourceID(v gjson.Result) pool.ID {
	switch v.Type {
	case gjson.String:
		return pool.ID(v.Str)
	case gjson.Number:
		if isIntegerLiteral(v.Raw) {
			return pool.ID(v.Raw)
		}
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) <= maxExactFloatInt {
			return pool.ID(strconv.FormatInt(int64(v.Num), 10))
		}
		return pool.ID(v.Raw)
	default:
		return ""
	}
}

// maxExactFloatInt is the largest magnitude below which every integer has an
// exact float64 form.
const maxExactFloatInt = 1 << 53

func isIntegerLiteral(raw string) bool {
	digits := strings.TrimPrefix(raw, "-")
	if digits == "" {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}

// fieldString reads a top-level field without interpreting it as a path.
func fieldString(body []byte, field string) string {
	var value string
	gjson.ParseBytes(body).ForEach(func(key, v gjson.Result) bool {
		if key.String() == field {
			value = v.String()
			return false
		}
		return true
	})
	return value
}

func containsID(doc gjson.Result, id pool.ID) bool {
	found := false
	doc.ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() && resourceID(item.Get("id")) == id {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsCheckFailure reports whether err carries at least one failed check.
func IsCheckFailure(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr)
}
