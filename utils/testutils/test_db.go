package testutils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const tableReadyTimeout = time.Minute

// CreateTestTable creates an event table keyed by (hashKey string, rangeKey number), with a
// NEW_IMAGE stream so stream records can be decoded, and waits until it is active.
// An existing table is reused.
func CreateTestTable(ctx context.Context, tableName, hashKey, rangeKey string, db *dynamodb.Client) error {
	keys := []struct {
		name     string
		attrType types.ScalarAttributeType
		keyType  types.KeyType
	}{
		{hashKey, types.ScalarAttributeTypeS, types.KeyTypeHash},
		{rangeKey, types.ScalarAttributeTypeN, types.KeyTypeRange},
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(tableName),
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewImage,
		},
	}
	for _, k := range keys {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(k.name),
			AttributeType: k.attrType,
		})
		input.KeySchema = append(input.KeySchema, types.KeySchemaElement{
			AttributeName: aws.String(k.name),
			KeyType:       k.keyType,
		})
	}

	if _, err := db.CreateTable(ctx, input); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("could not create table %s: %w", tableName, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(db)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, tableReadyTimeout); err != nil {
		return fmt.Errorf("table %s never became active: %w", tableName, err)
	}
	return nil
}

// DestroyTestTable removes a table made by CreateTestTable. Only point it at local endpoints.
func DestroyTestTable(ctx context.Context, tableName string, db *dynamodb.Client) error {
	if _, err := db.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(tableName)}); err != nil {
		return fmt.Errorf("could not delete table %s: %w", tableName, err)
	}
	return nil
}
