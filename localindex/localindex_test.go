package localindex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nostrc/negsync/negentropy"
	"github.com/nostrc/negsync/nostr"
)

func hexID(b byte) string {
	return strings.Repeat(fmt.Sprintf("%02x", b), 32)
}

func TestBuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	src.EXPECT().Query(gomock.Any(), nostr.Filter{Kinds: []int{0, 3}}).Return([]nostr.Event{
		{ID: hexID(0x30), CreatedAt: 20, Kind: 0},
		{ID: hexID(0x10), CreatedAt: 10, Kind: 3},
		{ID: hexID(0x20), CreatedAt: 20, Kind: 3},
		{ID: hexID(0x10), CreatedAt: 10, Kind: 3},
	}, nil)

	v, err := Build(context.Background(), src, []int{0, 3})
	require.NoError(t, err)
	require.True(t, v.Sealed())
	items := slices.Collect(v.All())
	require.Len(t, items, 3)
	require.Equal(t, uint64(10), items[0].Timestamp)
	require.Equal(t, negentropy.ID(nostr.MustParseID(hexID(0x10))), items[0].ID)
	require.Equal(t, negentropy.ID(nostr.MustParseID(hexID(0x20))), items[1].ID)
	require.Equal(t, negentropy.ID(nostr.MustParseID(hexID(0x30))), items[2].ID)
	for i := 1; i < len(items); i++ {
		require.Negative(t, items[i-1].Compare(items[i]))
	}
}

func TestBuildEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	src.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, nil)
	v, err := Build(context.Background(), src, []int{1})
	require.NoError(t, err)
	require.Zero(t, v.Size())
}

func TestBuildErrors(t *testing.T) {
	errQuery := errors.New("disk on fire")
	for _, tc := range []struct {
		name   string
		kinds  []int
		events []nostr.Event
		err    error
	}{
		{name: "no kinds"},
		{name: "query", kinds: []int{1}, err: errQuery},
		{name: "bad id", kinds: []int{1}, events: []nostr.Event{{ID: "abc", CreatedAt: 1}}},
		{name: "negative time", kinds: []int{1}, events: []nostr.Event{{ID: hexID(1), CreatedAt: -1}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			src := NewMockSource(ctrl)
			if len(tc.kinds) != 0 {
				src.EXPECT().Query(gomock.Any(), gomock.Any()).Return(tc.events, tc.err)
			}
			_, err := Build(context.Background(), src, tc.kinds)
			require.ErrorIs(t, err, ErrLocal)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}
		})
	}
}
