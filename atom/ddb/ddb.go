// Package ddb implements atom.Records on DynamoDB.
//
// DynamoDB conditional writes provide the unique-constraint semantics the
// atom store's dedup loop needs: Insert uses attribute_not_exists on the
// content-hash key, AddRef uses a conditional counter update. Two concurrent
// ingesters of identical content therefore resolve to exactly one row
// without any cross-process lock.
//
// Table schema (partition key only):
//   - Partition key: content_hash (string, hex digest)
//   - Attributes: id (number), modality, subtype, size_bytes, ref_count,
//     is_active, created_at
//
// A second item with partition key "_meta:next_id" carries the id counter,
// advanced with an atomic ADD update.
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name geosem-atoms \
//	  --attribute-definitions AttributeName=content_hash,AttributeType=S \
//	  --key-schema AttributeName=content_hash,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/geosem/atom"
	"github.com/hupe1980/geosem/model"
)

const metaNextIDKey = "_meta:next_id"

// Client is the interface for DynamoDB operations used by the record store.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Records implements atom.Records on a DynamoDB table.
type Records struct {
	client    Client
	tableName string
}

// Compile-time check.
var _ atom.Records = (*Records)(nil)

// NewRecords creates a DynamoDB-backed record store.
func NewRecords(client Client, tableName string) *Records {
	return &Records{client: client, tableName: tableName}
}

// NextID implements atom.Records via an atomic counter item.
func (r *Records) NextID(ctx context.Context) (model.AtomID, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"content_hash": &types.AttributeValueMemberS{Value: metaNextIDKey},
		},
		UpdateExpression: aws.String("ADD id_counter :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("advance id counter: %w", err)
	}

	return parseNumber[model.AtomID](out.Attributes, "id_counter")
}

// Insert implements atom.Records. The conditional expression is the unique
// constraint: exactly one concurrent Insert per hash succeeds.
func (r *Records) Insert(ctx context.Context, a *model.Atom) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                marshalAtom(a),
		ConditionExpression: aws.String("attribute_not_exists(content_hash)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return atom.ErrHashExists
		}
		return fmt.Errorf("insert atom: %w", err)
	}
	return nil
}

// AddRef implements atom.Records with a conditional counter update.
func (r *Records) AddRef(ctx context.Context, hash model.ContentHash) (*model.Atom, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"content_hash": &types.AttributeValueMemberS{Value: hash.Hex()},
		},
		ConditionExpression: aws.String("attribute_exists(content_hash)"),
		UpdateExpression:    aws.String("ADD ref_count :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return nil, atom.ErrNotFound
		}
		return nil, fmt.Errorf("add reference: %w", err)
	}

	return unmarshalAtom(out.Attributes)
}

// ReleaseRef implements atom.Records. The condition keeps the count from
// going below zero even under concurrent releases.
func (r *Records) ReleaseRef(ctx context.Context, id model.AtomID) (*model.Atom, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"content_hash": &types.AttributeValueMemberS{Value: a.ContentHash.Hex()},
		},
		ConditionExpression: aws.String("ref_count > :zero"),
		UpdateExpression:    aws.String("ADD ref_count :minus"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":minus": &types.AttributeValueMemberN{Value: "-1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			// Already at zero.
			return a, nil
		}
		return nil, fmt.Errorf("release reference: %w", err)
	}

	released, err := unmarshalAtom(out.Attributes)
	if err != nil {
		return nil, err
	}

	if released.ReferenceCount == 0 && released.IsActive {
		if _, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(r.tableName),
			Key: map[string]types.AttributeValue{
				"content_hash": &types.AttributeValueMemberS{Value: a.ContentHash.Hex()},
			},
			UpdateExpression: aws.String("SET is_active = :false"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":false": &types.AttributeValueMemberBOOL{Value: false},
			},
		}); err != nil {
			return nil, fmt.Errorf("deactivate atom: %w", err)
		}
		released.IsActive = false
	}

	return released, nil
}

// Get implements atom.Records. The table is keyed by hash, so lookup by id
// scans with a filter; callers on the hot path use GetByHash.
func (r *Records) Get(ctx context.Context, id model.AtomID) (*model.Atom, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(id), 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan for atom id: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, atom.ErrNotFound
	}

	return unmarshalAtom(out.Items[0])
}

// GetByHash implements atom.Records.
func (r *Records) GetByHash(ctx context.Context, hash model.ContentHash) (*model.Atom, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"content_hash": &types.AttributeValueMemberS{Value: hash.Hex()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get atom: %w", err)
	}
	if out.Item == nil {
		return nil, atom.ErrNotFound
	}

	return unmarshalAtom(out.Item)
}

// Count implements atom.Records.
func (r *Records) Count(ctx context.Context) (int, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		Select:           types.SelectCount,
		FilterExpression: aws.String("content_hash <> :meta"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":meta": &types.AttributeValueMemberS{Value: metaNextIDKey},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("count atoms: %w", err)
	}
	return int(out.Count), nil
}

func marshalAtom(a *model.Atom) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"content_hash": &types.AttributeValueMemberS{Value: a.ContentHash.Hex()},
		"id":           &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(a.ID), 10)},
		"modality":     &types.AttributeValueMemberS{Value: string(a.Modality)},
		"subtype":      &types.AttributeValueMemberS{Value: a.Subtype},
		"size_bytes":   &types.AttributeValueMemberN{Value: strconv.FormatInt(a.SizeBytes, 10)},
		"ref_count":    &types.AttributeValueMemberN{Value: strconv.FormatInt(a.ReferenceCount, 10)},
		"is_active":    &types.AttributeValueMemberBOOL{Value: a.IsActive},
		"created_at":   &types.AttributeValueMemberS{Value: a.CreatedAt.Format(time.RFC3339Nano)},
	}
}

func unmarshalAtom(item map[string]types.AttributeValue) (*model.Atom, error) {
	hashAttr, ok := item["content_hash"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("invalid content_hash attribute")
	}
	hash, err := model.ParseContentHash(hashAttr.Value)
	if err != nil {
		return nil, err
	}

	id, err := parseNumber[model.AtomID](item, "id")
	if err != nil {
		return nil, err
	}
	size, err := parseNumber[int64](item, "size_bytes")
	if err != nil {
		return nil, err
	}
	refCount, err := parseNumber[int64](item, "ref_count")
	if err != nil {
		return nil, err
	}

	a := &model.Atom{
		ID:             id,
		ContentHash:    hash,
		SizeBytes:      size,
		ReferenceCount: refCount,
	}

	if attr, ok := item["modality"].(*types.AttributeValueMemberS); ok {
		a.Modality = model.Modality(attr.Value)
	}
	if attr, ok := item["subtype"].(*types.AttributeValueMemberS); ok {
		a.Subtype = attr.Value
	}
	if attr, ok := item["is_active"].(*types.AttributeValueMemberBOOL); ok {
		a.IsActive = attr.Value
	}
	if attr, ok := item["created_at"].(*types.AttributeValueMemberS); ok {
		if ts, err := time.Parse(time.RFC3339Nano, attr.Value); err == nil {
			a.CreatedAt = ts
		}
	}

	return a, nil
}

func parseNumber[T ~uint64 | ~int64](item map[string]types.AttributeValue, name string) (T, error) {
	attr, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("missing numeric attribute %q", name)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", name, err)
	}
	return T(n), nil
}
