package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/svdag/blobstore"
)

// DDBCommitStore implements blobstore.CommitStore with DynamoDB
// conditional writes, which give the compare-and-swap S3 lacks. Every
// commit is a new item; the newest version per scene is current.
//
// Table schema:
//   - Partition key: base_uri (string) - store prefix plus scene name
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name svdag-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	client    DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// NewDDBCommitStore creates a commit store. baseURI (e.g.
// "s3://bucket/prefix") namespaces the scenes of one store.
func NewDDBCommitStore(client DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		client:    client,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

func (s *DDBCommitStore) partition(scene string) string {
	return s.baseURI + "#" + scene
}

// Current queries the newest version of scene.
func (s *DDBCommitStore) Current(ctx context.Context, scene string) (blobstore.Commit, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.partition(scene)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return blobstore.Commit{}, fmt.Errorf("query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return blobstore.Commit{}, blobstore.ErrNotFound
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return blobstore.Commit{}, errors.New("invalid version attribute in DynamoDB")
	}
	nameAttr, ok := item["snapshot"].(*types.AttributeValueMemberS)
	if !ok {
		return blobstore.Commit{}, errors.New("invalid snapshot attribute in DynamoDB")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return blobstore.Commit{}, fmt.Errorf("parse version: %w", err)
	}
	return blobstore.Commit{Scene: scene, Version: version, Name: nameAttr.Value}, nil
}

// Commit writes version prev+1 unless it already exists. A writer that
// read a stale prev loses the conditional put and gets ErrConflict.
func (s *DDBCommitStore) Commit(ctx context.Context, scene string, prev uint64, name string) (blobstore.Commit, error) {
	next := prev + 1
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.partition(scene)},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return blobstore.Commit{}, blobstore.ErrConflict
		}
		return blobstore.Commit{}, fmt.Errorf("commit version %d: %w", next, err)
	}
	return blobstore.Commit{Scene: scene, Version: next, Name: name}, nil
}
