package race

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allocCall struct {
	cred Credential
	a    Allocation
}

type fakeAllocator struct {
	mu     sync.Mutex
	calls  []allocCall
	events []string
	fn     func(a Allocation, call int) (int, error)
}

func (f *fakeAllocator) Allocate(ctx context.Context, cred Credential, a Allocation) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, allocCall{cred: cred, a: a})
	n := len(f.calls)
	f.events = append(f.events, "start:"+a.InventoryID)
	f.mu.Unlock()

	status, err := 200, error(nil)
	if f.fn != nil {
		status, err = f.fn(a, n)
	}

	f.mu.Lock()
	f.events = append(f.events, "end:"+a.InventoryID)
	f.mu.Unlock()
	return status, err
}

func (f *fakeAllocator) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.a.InventoryID)
	}
	return out
}

var sampleVariants = []Variant{
	{InventoryID: "A", Name: "Student", MaxReservableQuantity: 2},
	{InventoryID: "B", Name: "Normal", MaxReservableQuantity: 1},
}

func TestDispatcher_TaggedRunsTwoWaves(t *testing.T) {
	alloc := &fakeAllocator{}
	d := &Dispatcher{Allocator: alloc}

	got := d.Reserve(context.Background(), sampleVariants, Credential("Bearer tok"), "student")

	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].InventoryID)
	assert.Equal(t, 1, got[0].Wave)
	assert.Equal(t, 2, got[0].Quantity)

	assert.Equal(t, "A", got[1].InventoryID)
	assert.Equal(t, 2, got[1].Wave)
	assert.Equal(t, "B", got[2].InventoryID)
	assert.Equal(t, 2, got[2].Wave)
	assert.Equal(t, 1, got[2].Quantity)

	for _, o := range got {
		assert.True(t, o.Succeeded)
		require.NotNil(t, o.HTTPStatus)
		assert.Equal(t, 200, *o.HTTPStatus)
		assert.Equal(t, ErrorNone, o.Error)
	}

	assert.ElementsMatch(t, []string{"A", "A", "B"}, alloc.ids())
	for _, c := range alloc.calls {
		assert.Equal(t, Credential("Bearer tok"), c.cred)
	}
}

func TestDispatcher_UntaggedRunsOneWave(t *testing.T) {
	tests := []struct {
		name string
		tag  string
	}{
		{name: "no tag", tag: ""},
		{name: "blank tag", tag: "   "},
		{name: "tag without match", tag: "vip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &fakeAllocator{}
			d := &Dispatcher{Allocator: alloc}

			got := d.Reserve(context.Background(), sampleVariants, Credential("Bearer tok"), tt.tag)

			require.Len(t, got, 2)
			assert.Equal(t, "A", got[0].InventoryID)
			assert.Equal(t, "B", got[1].InventoryID)
			for _, o := range got {
				assert.Equal(t, 2, o.Wave)
			}
			assert.ElementsMatch(t, []string{"A", "B"}, alloc.ids())
		})
	}
}

func TestDispatcher_WavesAreSequential(t *testing.T) {
	alloc := &fakeAllocator{fn: func(a Allocation, call int) (int, error) {
		if call == 1 {
			time.Sleep(30 * time.Millisecond)
		}
		return 200, nil
	}}
	d := &Dispatcher{Allocator: alloc}

	_ = d.Reserve(context.Background(), sampleVariants, Credential("Bearer tok"), "STUDENT")

	require.Len(t, alloc.events, 6)
	assert.Equal(t, []string{"start:A", "end:A"}, alloc.events[:2])
}

func TestDispatcher_PartialFailure(t *testing.T) {
	alloc := &fakeAllocator{fn: func(a Allocation, _ int) (int, error) {
		if a.InventoryID == "B" {
			return 409, &StatusError{Code: 409, Message: "sold out"}
		}
		return 201, nil
	}}
	d := &Dispatcher{Allocator: alloc}

	got := d.Reserve(context.Background(), sampleVariants, Credential("Bearer tok"), "")
	require.Len(t, got, 2)

	assert.True(t, got[0].Succeeded)
	assert.Equal(t, 201, *got[0].HTTPStatus)

	assert.False(t, got[1].Succeeded)
	assert.Equal(t, ErrorRejected, got[1].Error)
	assert.Equal(t, 409, *got[1].HTTPStatus)
	assert.Contains(t, got[1].Detail, "sold out")
}

func TestDispatcher_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantKind   ErrorKind
		wantStatus *int
	}{
		{name: "transport", status: 0, err: fmt.Errorf("post: %w", ErrTransport), wantKind: ErrorTransport},
		{name: "unknown error counts as transport", status: 0, err: context.DeadlineExceeded, wantKind: ErrorTransport},
		{name: "decode on 200", status: 200, err: fmt.Errorf("html body: %w", ErrDecode), wantKind: ErrorDecode, wantStatus: intPtr(200)},
		{name: "status without error", status: 500, wantKind: ErrorRejected, wantStatus: intPtr(500)},
		{name: "status error", status: 429, err: &StatusError{Code: 429}, wantKind: ErrorRejected, wantStatus: intPtr(429)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &fakeAllocator{fn: func(Allocation, int) (int, error) { return tt.status, tt.err }}
			d := &Dispatcher{Allocator: alloc}

			got := d.Reserve(context.Background(), sampleVariants[:1], Credential("Bearer tok"), "")
			require.Len(t, got, 1)
			assert.False(t, got[0].Succeeded)
			assert.Equal(t, tt.wantKind, got[0].Error)
			assert.Equal(t, tt.wantStatus, got[0].HTTPStatus)
			assert.NotEmpty(t, got[0].Detail)
		})
	}
}

func TestDispatcher_RequestsReportedQuantityAsIs(t *testing.T) {
	alloc := &fakeAllocator{fn: func(a Allocation, _ int) (int, error) {
		if a.Quantity < 1 {
			return 422, &StatusError{Code: 422, Message: "invalid quantity"}
		}
		return 200, nil
	}}
	d := &Dispatcher{Allocator: alloc}

	variants := []Variant{
		{InventoryID: "A", Name: "Student", MaxReservableQuantity: 0},
		{InventoryID: "B", Name: "Normal", MaxReservableQuantity: 4},
	}
	got := d.Reserve(context.Background(), variants, Credential("Bearer tok"), "")

	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, alloc.ids())
	for _, c := range alloc.calls {
		want := map[string]int{"A": 0, "B": 4}[c.a.InventoryID]
		assert.Equal(t, want, c.a.Quantity)
	}

	assert.False(t, got[0].Succeeded)
	assert.Equal(t, ErrorRejected, got[0].Error)
	assert.Equal(t, 0, got[0].Quantity)
	require.NotNil(t, got[0].HTTPStatus)
	assert.Equal(t, 422, *got[0].HTTPStatus)
	assert.True(t, got[1].Succeeded)
}

func TestDispatcher_NoVariants(t *testing.T) {
	alloc := &fakeAllocator{}
	d := &Dispatcher{Allocator: alloc}

	assert.Nil(t, d.Reserve(context.Background(), nil, Credential("Bearer tok"), "student"))
	assert.Empty(t, alloc.ids())
}

func TestMatchTag(t *testing.T) {
	variants := []Variant{
		{InventoryID: "1", Name: "Opiskelija / Student"},
		{InventoryID: "2", Name: "Normaali"},
		{InventoryID: "3", Name: "STUDENT afterparty"},
		{InventoryID: "4", Name: "Jäsen ÄÄNI"},
	}
	tests := []struct {
		name string
		tag  string
		want []string
	}{
		{name: "lower tag", tag: "student", want: []string{"1", "3"}},
		{name: "mixed case tag", tag: "StUdEnT", want: []string{"1", "3"}},
		{name: "surrounding space", tag: "  normaali ", want: []string{"2"}},
		{name: "non ascii", tag: "ääni", want: []string{"4"}},
		{name: "no match", tag: "vip", want: nil},
		{name: "empty", tag: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, v := range MatchTag(variants, tt.tag) {
				got = append(got, v.InventoryID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredential_StringIsRedacted(t *testing.T) {
	c := Credential("Bearer secret")
	assert.Equal(t, "[redacted]", c.String())
	assert.Equal(t, "[redacted]", fmt.Sprintf("%v", c))
	assert.Equal(t, "", Credential("").String())
}

func intPtr(i int) *int { return &i }
