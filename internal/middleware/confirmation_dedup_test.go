package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestMemoryConfirmationDeduper(t *testing.T) {
	d := newMemoryConfirmationDeduper(time.Minute)

	seen, err := d.Seen(context.Background(), "k1")
	assert.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(context.Background(), "k1")
	assert.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(context.Background(), "k2")
	assert.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryConfirmationDeduperExpiry(t *testing.T) {
	d := newMemoryConfirmationDeduper(time.Nanosecond)

	_, err := d.Seen(context.Background(), "k1")
	assert.NoError(t, err)
	time.Sleep(time.Millisecond)

	seen, err := d.Seen(context.Background(), "k1")
	assert.NoError(t, err)
	assert.False(t, seen)
}

func TestNewConfirmationDeduperWithoutRedis(t *testing.T) {
	d, err := NewConfirmationDeduper("", "", 0, 0)
	assert.NoError(t, err)
	assert.IsType(t, &memoryConfirmationDeduper{}, d)
}

func TestConfirmationDedup(t *testing.T) {
	e := echo.New()
	var calls int
	handler := func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, "handled")
	}
	mw := ConfirmationDedup(newMemoryConfirmationDeduper(time.Minute))

	deliver := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payment/ceca/confirmation", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		assert.NoError(t, mw(handler)(c))
		return rec
	}

	first := deliver("Num_operacion=ABC123")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "handled", first.Body.String())
	assert.Equal(t, 1, calls)

	t.Run("an identical redelivery is dropped", func(t *testing.T) {
		second := deliver("Num_operacion=ABC123")
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Empty(t, second.Body.String())
		assert.Equal(t, 1, calls)
	})

	t.Run("a different body still goes through", func(t *testing.T) {
		third := deliver("Num_operacion=XYZ789")
		assert.Equal(t, "handled", third.Body.String())
		assert.Equal(t, 2, calls)
	})

	t.Run("the body survives the digest for the handler", func(t *testing.T) {
		var got string
		reader := func(c echo.Context) error {
			form, err := c.FormParams()
			assert.NoError(t, err)
			got = form.Get("Num_operacion")
			return c.NoContent(http.StatusOK)
		}
		req := httptest.NewRequest(http.MethodPost, "/payment/ceca/confirmation", strings.NewReader("Num_operacion=QWE456"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		assert.NoError(t, mw(reader)(c))
		assert.Equal(t, "QWE456", got)
	})
}

func TestConfirmationDedupNilDeduper(t *testing.T) {
	e := echo.New()
	var calls int
	handler := func(c echo.Context) error {
		calls++
		return c.NoContent(http.StatusOK)
	}
	mw := ConfirmationDedup(nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payment/ceca/confirmation", strings.NewReader("same"))
		rec := httptest.NewRecorder()
		assert.NoError(t, mw(handler)(e.NewContext(req, rec)))
	}
	assert.Equal(t, 2, calls)
}
