package ddb

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/geosem/atom"
	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/model"
)

// fakeClient emulates the narrow slice of DynamoDB behavior the record store
// depends on: keyed items, conditional puts and atomic counter updates.
type fakeClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["content_hash"].(*types.AttributeValueMemberS).Value
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := itemKey(in.Item)
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		if _, ok := f.items[key]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := itemKey(in.Key)
	item, exists := f.items[key]

	if in.ConditionExpression != nil {
		cond := *in.ConditionExpression
		switch {
		case strings.Contains(cond, "attribute_exists") && !exists:
			return nil, &types.ConditionalCheckFailedException{}
		case strings.Contains(cond, "ref_count > :zero"):
			if !exists || numAttr(item, "ref_count") <= 0 {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}

	if !exists {
		item = map[string]types.AttributeValue{"content_hash": in.Key["content_hash"]}
		f.items[key] = item
	}

	expr := *in.UpdateExpression
	switch {
	case strings.Contains(expr, "ADD id_counter"):
		setNumAttr(item, "id_counter", numAttr(item, "id_counter")+1)
	case strings.Contains(expr, "ADD ref_count"):
		delta := numAttr2(in.ExpressionAttributeValues)
		setNumAttr(item, "ref_count", numAttr(item, "ref_count")+delta)
	case strings.Contains(expr, "SET is_active"):
		item["is_active"] = &types.AttributeValueMemberBOOL{Value: false}
	}

	return &dynamodb.UpdateItemOutput{Attributes: item}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.ScanOutput{}
	for key, item := range f.items {
		if in.FilterExpression != nil {
			filter := *in.FilterExpression
			if strings.Contains(filter, "id = :id") {
				want := in.ExpressionAttributeValues[":id"].(*types.AttributeValueMemberN).Value
				if attr, ok := item["id"].(*types.AttributeValueMemberN); !ok || attr.Value != want {
					continue
				}
			}
			if strings.Contains(filter, "content_hash <> :meta") && key == metaNextIDKey {
				continue
			}
		}
		out.Items = append(out.Items, item)
		out.Count++
	}
	return out, nil
}

func numAttr(item map[string]types.AttributeValue, name string) int64 {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(attr.Value, 10, 64)
	return n
}

func numAttr2(values map[string]types.AttributeValue) int64 {
	for name, v := range values {
		if name == ":one" || name == ":minus" {
			n, _ := strconv.ParseInt(v.(*types.AttributeValueMemberN).Value, 10, 64)
			return n
		}
	}
	return 0
}

func setNumAttr(item map[string]types.AttributeValue, name string, v int64) {
	item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func TestRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertIsConditional", func(t *testing.T) {
		records := NewRecords(newFakeClient(), "atoms")

		a := &model.Atom{ID: 1, ContentHash: atom.Hash([]byte("x")), ReferenceCount: 1, IsActive: true}
		require.NoError(t, records.Insert(ctx, a))
		assert.ErrorIs(t, records.Insert(ctx, a), atom.ErrHashExists)
	})

	t.Run("AddRefMissing", func(t *testing.T) {
		records := NewRecords(newFakeClient(), "atoms")
		_, err := records.AddRef(ctx, atom.Hash([]byte("missing")))
		assert.ErrorIs(t, err, atom.ErrNotFound)
	})

	t.Run("NextIDAdvances", func(t *testing.T) {
		records := NewRecords(newFakeClient(), "atoms")

		first, err := records.NextID(ctx)
		require.NoError(t, err)
		second, err := records.NextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, first+1, second)
	})

	t.Run("StoreRoundTrip", func(t *testing.T) {
		// The full dedup loop running against the DynamoDB backend.
		store := atom.NewStore(NewRecords(newFakeClient(), "atoms"), blobstore.NewMemory())

		a, dup, err := store.GetOrCreate(ctx, []byte("hello"), model.ModalityText, "plain")
		require.NoError(t, err)
		assert.False(t, dup)

		b, dup, err := store.GetOrCreate(ctx, []byte("hello"), model.ModalityText, "plain")
		require.NoError(t, err)
		assert.True(t, dup)
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, int64(2), b.ReferenceCount)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		released, err := store.Release(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), released.ReferenceCount)
	})
}
