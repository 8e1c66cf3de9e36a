package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credon/veridex/pkg/bitstring"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/signer"
	"github.com/credon/veridex/pkg/statuslist"
	"github.com/credon/veridex/pkg/types"
)

func init() {
	log.Init(log.Config{Level: "error"})
}

func TestPublisherRepublishesDirtyLists(t *testing.T) {
	ctx := context.Background()
	credSigner, err := signer.Generate("did:example:issuer#key-1")
	require.NoError(t, err)
	store := docstore.NewMemStore()
	require.NoError(t, store.EnsureIndex(ctx, []string{"meta.type", "content.id"}, true))

	lists, err := statuslist.NewManager(statuslist.Config{
		Store:  store,
		Signer: credSigner,
		Issuer: "did:example:issuer",
	})
	require.NoError(t, err)

	const listID = "https://vc.example.com/issuers/i1/slcs/pub"
	source := lists.NewSource(types.ListTypeStatusList2021)
	_, err = source.CreateStatusList(ctx, listID, types.StatusPurposeRevocation, 16)
	require.NoError(t, err)
	require.NoError(t, lists.SetStatus(ctx, listID, 3, true))

	pub := New(lists, 20*time.Millisecond)
	pub.Start()
	defer pub.Stop()

	// The loop picks up the dirty list and republishes it.
	assert.Eventually(t, func() bool {
		slc, err := lists.Get(ctx, listID)
		if err != nil {
			return false
		}
		var subject struct {
			EncodedList string `json:"encodedList"`
		}
		if err := json.Unmarshal(slc.CredentialSubject, &subject); err != nil {
			return false
		}
		bits, err := bitstring.Decode(subject.EncodedList)
		if err != nil {
			return false
		}
		value, err := bits.Get(3)
		return err == nil && value
	}, 2*time.Second, 10*time.Millisecond)

	dirty, err := lists.DirtyLists(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestPublisherDefaultInterval(t *testing.T) {
	pub := New(nil, 0)
	assert.Equal(t, DefaultInterval, pub.interval)
}
