package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/blobstore"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemVersion(item map[string]types.AttributeValue) uint64 {
	v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	return v
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return itemVersion(items[i]) > itemVersion(items[j])
	})

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	store := NewDDBCommitStore(newMockDDBClient(), "svdag-commits", "s3://test-bucket/test/")

	_, err := store.Current(ctx, "city")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	c, err := store.Commit(ctx, "city", 0, "city-00001.svds")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Version)

	cur, err := store.Current(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, blobstore.Commit{Scene: "city", Version: 1, Name: "city-00001.svds"}, cur)
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	store := NewDDBCommitStore(newMockDDBClient(), "svdag-commits", "s3://test-bucket/test/")

	// Past nine so string ordering of versions would be wrong.
	for i := 1; i <= 12; i++ {
		_, err := store.Commit(ctx, "city", uint64(i-1), fmt.Sprintf("city-%05d.svds", i))
		require.NoError(t, err)
	}

	cur, err := store.Current(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), cur.Version)
	assert.Equal(t, "city-00012.svds", cur.Name)

	_, err = store.Commit(ctx, "city", 3, "stale.svds")
	require.ErrorIs(t, err, blobstore.ErrConflict)
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store := NewDDBCommitStore(newMockDDBClient(), "svdag-commits", "s3://test-bucket/test/")

	_, err := store.Commit(ctx, "city", 0, "city-00001.svds")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Commit(ctx, "city", 1, fmt.Sprintf("city-%05d.svds", i+2))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, blobstore.ErrConflict):
				conflicts++
			case err == nil:
				successes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one writer wins version 2")
	assert.Equal(t, 4, conflicts)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	a := NewDDBCommitStore(ddb, "svdag-commits", "s3://bucket-a/path/")
	b := NewDDBCommitStore(ddb, "svdag-commits", "s3://bucket-b/path/")

	_, err := a.Commit(ctx, "city", 0, "A.svds")
	require.NoError(t, err)
	_, err = b.Commit(ctx, "city", 0, "B.svds")
	require.NoError(t, err)
	_, err = a.Commit(ctx, "forest", 0, "F.svds")
	require.NoError(t, err)

	ca, err := a.Current(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, "A.svds", ca.Name)

	cb, err := b.Current(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, "B.svds", cb.Name)

	_, err = b.Current(ctx, "forest")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

var _ blobstore.CommitStore = (*DDBCommitStore)(nil)
