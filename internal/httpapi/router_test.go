package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"
	"bookhold/internal/membership"
	"bookhold/internal/store/memory"
	"bookhold/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.NewStore()
	journal := eventstore.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := httptest.NewServer(NewRouter(Services{
		Catalog: catalog.NewService(store, journal, log),
		Membership: membership.NewService(store, journal, log, membership.Options{
			AdminUsernames: []string{"staff"},
			AuthRate:       rate.Inf,
		}),
		Circulation: circulation.NewService(store, journal, log, circulation.Options{}),
		Guard:       guard.New(store, journal, log),
		Tokens:      membership.NewTokenIssuer("test-secret", time.Hour),
		Log:         log,
	}))
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv}
}

// call sends body as JSON and decodes the response into out when non-nil.
func (a *testAPI) call(method, path, token string, body, out any) int {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// login registers username and returns a bearer token for it.
func (a *testAPI) login(username string) (string, uuid.UUID) {
	a.t.Helper()
	status := a.call(http.MethodPost, "/accounts/register", "", map[string]string{
		"username":   username,
		"email":      username + "@example.com",
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"phone":      "+15555550100",
		"password":   "correct horse battery",
	}, nil)
	require.Equal(a.t, http.StatusCreated, status)

	var res struct {
		Token   string `json:"token"`
		Account struct {
			ID uuid.UUID `json:"id"`
		} `json:"account"`
	}
	status = a.call(http.MethodPost, "/accounts/login", "", map[string]string{
		"username": username,
		"password": "correct horse battery",
	}, &res)
	require.Equal(a.t, http.StatusOK, status)
	require.NotEmpty(a.t, res.Token)
	return res.Token, res.Account.ID
}

func (a *testAPI) addItem(staff, title string) uuid.UUID {
	a.t.Helper()
	var item catalog.Item
	status := a.call(http.MethodPost, "/items", staff, map[string]string{
		"title":     title,
		"author":    "Kernighan",
		"publisher": "Prentice Hall",
		"published": "1988-03-22",
		"price":     "49,90",
	}, &item)
	require.Equal(a.t, http.StatusCreated, status)
	return item.ID
}

func (a *testAPI) available(itemID uuid.UUID) bool {
	a.t.Helper()
	var res struct {
		Available bool `json:"available"`
	}
	require.Equal(a.t, http.StatusOK, a.call(http.MethodGet, "/items/"+itemID.String()+"/availability", "", nil, &res))
	return res.Available
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func TestReserveRentReturnScenario(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	u1, u1ID := api.login("reader1")
	u2, _ := api.login("reader2")

	book := api.addItem(staff, "The C Programming Language")
	require.True(t, api.available(book))

	var res circulation.View
	status := api.call(http.MethodPost, "/items/"+book.String()+"/reserve", u1, nil, &res)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, u1ID, res.AccountID)
	assert.Equal(t, circulation.StateHeld, res.State)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), res.ExpiresAt, time.Minute)
	assert.False(t, api.available(book))

	var conflict errorResponse
	status = api.call(http.MethodPost, "/items/"+book.String()+"/reserve", u2, nil, &conflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyReserved", conflict.Reason)

	rid := res.ID.String()
	assert.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+rid+"/rent", staff, nil, nil))
	assert.False(t, api.available(book))

	var rented []circulation.View
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/reservations/manage-rented", staff, nil, &rented))
	require.Len(t, rented, 1)
	assert.Equal(t, res.ID, rented[0].ID)

	assert.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+rid+"/return", staff, nil, nil))
	assert.True(t, api.available(book))

	status = api.call(http.MethodPost, "/reservations/"+rid+"/rent", staff, nil, &conflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "AlreadyReturned", conflict.Reason)

	// repeated return is a no-op
	assert.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+rid+"/return", staff, nil, nil))

	var events []eventstore.Event
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/reservations/"+rid+"/events", staff, nil, &events))
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{"ItemReserved", "ReservationRented", "ReservationReturned"}, types)
}

func TestSoftDeletedItemStaysUnavailable(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	reader, _ := api.login("reader")
	book := api.addItem(staff, "Structure and Interpretation of Computer Programs")

	var res circulation.View
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+book.String()+"/reserve", reader, nil, &res))

	var decision struct {
		Decision guard.ItemDecision `json:"decision"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/items/"+book.String()+"/guard", staff, nil, &decision))
	assert.Equal(t, guard.RejectItem, decision.Decision)

	var conflict errorResponse
	assert.Equal(t, http.StatusConflict, api.call(http.MethodDelete, "/items/"+book.String(), staff, nil, &conflict))
	assert.Equal(t, "HasReservations", conflict.Reason)

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+res.ID.String()+"/return", staff, nil, nil))

	require.Equal(t, http.StatusOK, api.call(http.MethodDelete, "/items/"+book.String(), staff, nil, &decision))
	assert.Equal(t, guard.SoftDelete, decision.Decision)
	assert.False(t, api.available(book))

	var results []circulation.ItemSummary
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/items/available?q=structure", "", nil, &results))
	assert.Empty(t, results)

	status := api.call(http.MethodPost, "/items/"+book.String()+"/reserve", reader, nil, &conflict)
	assert.Equal(t, http.StatusConflict, status)
}

func TestHardDeleteWithoutHistory(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	book := api.addItem(staff, "Unread")

	var decision struct {
		Decision guard.ItemDecision `json:"decision"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodDelete, "/items/"+book.String(), staff, nil, &decision))
	assert.Equal(t, guard.HardDelete, decision.Decision)
	assert.Equal(t, http.StatusNotFound, api.call(http.MethodGet, "/items/"+book.String(), "", nil, nil))
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	reader, _ := api.login("reader")
	api.addItem(staff, "Go in Action")
	taken := api.addItem(staff, "The Go Programming Language")
	api.addItem(staff, "Rust in Action")

	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+taken.String()+"/reserve", reader, nil, nil))

	var results []circulation.ItemSummary
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/items/available?q=GO", "", nil, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Go in Action", results[0].Title)

	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/items/available", "", nil, &results))
	assert.Len(t, results, 2)
}

func TestAccountDeletionGuard(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	reader, readerID := api.login("reader")
	first := api.addItem(staff, "First")
	second := api.addItem(staff, "Second")

	var held, lent circulation.View
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+first.String()+"/reserve", reader, nil, &held))
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+second.String()+"/reserve", reader, nil, &lent))
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+lent.ID.String()+"/rent", staff, nil, nil))

	var conflict errorResponse
	assert.Equal(t, http.StatusConflict, api.call(http.MethodDelete, "/accounts/me", reader, nil, &conflict))
	assert.Equal(t, "RentedItems", conflict.Reason)

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+lent.ID.String()+"/return", staff, nil, nil))

	// a plain hold does not block account deletion; it goes with the account
	require.Equal(t, http.StatusOK, api.call(http.MethodDelete, "/accounts/"+readerID.String(), staff, nil, nil))
	assert.True(t, api.available(first))
	assert.Equal(t, http.StatusNotFound, api.call(http.MethodGet, "/accounts/me", reader, nil, nil))
}

func TestCancelOwnership(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	owner, _ := api.login("owner")
	other, _ := api.login("other")
	book := api.addItem(staff, "Refactoring")

	var res circulation.View
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+book.String()+"/reserve", owner, nil, &res))
	path := "/reservations/" + res.ID.String()

	assert.Equal(t, http.StatusForbidden, api.call(http.MethodDelete, path, other, nil, nil))
	assert.Equal(t, http.StatusOK, api.call(http.MethodDelete, path, owner, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.call(http.MethodDelete, path, owner, nil, nil))
	assert.True(t, api.available(book))
}

func TestMyReservationsExcludeRented(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	reader, _ := api.login("reader")
	other, _ := api.login("other")
	first := api.addItem(staff, "Design Patterns")
	second := api.addItem(staff, "Domain-Driven Design")
	third := api.addItem(staff, "Patterns of Enterprise Application Architecture")

	var held, lent circulation.View
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+first.String()+"/reserve", reader, nil, &held))
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+second.String()+"/reserve", reader, nil, &lent))
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/reservations/"+lent.ID.String()+"/rent", staff, nil, nil))
	require.Equal(t, http.StatusCreated, api.call(http.MethodPost, "/items/"+third.String()+"/reserve", other, nil, nil))

	var mine []circulation.View
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/reservations", reader, nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, held.ID, mine[0].ID)
	assert.Equal(t, circulation.StateHeld, mine[0].State)
}

func TestAuthorization(t *testing.T) {
	api := newTestAPI(t)
	reader, _ := api.login("reader")

	assert.Equal(t, http.StatusUnauthorized, api.call(http.MethodGet, "/reservations", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, api.call(http.MethodGet, "/reservations", "not-a-token", nil, nil))
	assert.Equal(t, http.StatusForbidden, api.call(http.MethodGet, "/reservations/manage", reader, nil, nil))
	assert.Equal(t, http.StatusForbidden, api.call(http.MethodPost, "/items", reader, map[string]string{
		"title": "x", "author": "y", "publisher": "z", "price": "1",
	}, nil))
	assert.Equal(t, http.StatusOK, api.call(http.MethodGet, "/healthz", "", nil, nil))
}

func TestItemEditRequiresCurrentVersion(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	book := api.addItem(staff, "Clean Code")

	edit := func(version int) (int, errorResponse) {
		var res errorResponse
		status := api.call(http.MethodPut, "/items/"+book.String(), staff, map[string]any{
			"title":     "Clean Code",
			"author":    "Martin",
			"publisher": "Prentice Hall",
			"price":     "37.50",
			"version":   version,
		}, &res)
		return status, res
	}

	status, _ := edit(1)
	require.Equal(t, http.StatusOK, status)

	status, res := edit(1)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "StaleVersion", res.Reason)

	var item catalog.Item
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/items/"+book.String(), "", nil, &item))
	assert.Equal(t, 2, item.Version)
	assert.Equal(t, "37.5", item.Price.String())
}

func TestConcurrentReserveOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff, _ := api.login("staff")
	book := api.addItem(staff, "Concurrency in Go")

	const n = 8
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i], _ = api.login(fmt.Sprintf("racer%d", i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
		start    = make(chan struct{})
	)
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			status := api.call(http.MethodPost, "/items/"+book.String()+"/reserve", tok, nil, nil)
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		}(tok)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, statuses[http.StatusCreated])
	assert.Equal(t, n-1, statuses[http.StatusConflict])
}
