package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"event-api/domain"
	"event-api/internal/consts"
)

const (
	edmInt64 = "Edm.Int64"

	counterPartition   = "meta"
	maxCounterAttempts = 16
)

// ErrCounterContention is returned when the id counter could not be advanced
// because other writers kept winning the conditional update.
var ErrCounterContention = errors.New("storage: id counter contention")

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Tables stores users as Azure Table entities in a single partition. Row keys
// are zero padded ids so a partition scan returns users in id order.
type Tables struct {
	table tableClient
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, usersTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(usersTable)}, nil
}

var _ domain.UserStore = (*Tables)(nil)

type userEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ID           int64  `json:"ID,string"`
	IDType       string `json:"ID@odata.type,omitempty"`
	Name         string `json:"Name"`
	Email        string `json:"Email"`
}

type counterEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Value        int64  `json:"Value,string"`
	ValueType    string `json:"Value@odata.type,omitempty"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func newUserEntity(id int64, name, email string) userEntity {
	return userEntity{
		PartitionKey: consts.UsersPartition,
		RowKey:       rowKey(id),
		ID:           id,
		IDType:       edmInt64,
		Name:         name,
		Email:        email,
	}
}

func (e userEntity) user() domain.User {
	return domain.NewUser(e.ID, e.Name, e.Email)
}

func (t *Tables) ListAll(ctx context.Context) ([]domain.User, error) {
	filter := "PartitionKey eq '" + consts.UsersPartition + "'"
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	users := []domain.User{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent userEntity
			if err := sonic.ConfigStd.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			users = append(users, ent.user())
		}
	}
	return users, nil
}

func (t *Tables) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	resp, err := t.table.GetEntity(ctx, consts.UsersPartition, rowKey(id), nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ent userEntity
	if err := sonic.ConfigStd.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	u := ent.user()
	return &u, nil
}

func (t *Tables) Insert(ctx context.Context, name, email string) (domain.User, error) {
	id, err := t.nextID(ctx)
	if err != nil {
		return domain.User{}, err
	}
	ent := newUserEntity(id, name, email)
	payload, err := sonic.ConfigStd.Marshal(ent)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := t.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.User{}, err
	}
	return ent.user(), nil
}

func (t *Tables) UpdateByID(ctx context.Context, id int64, name, email string) (domain.User, error) {
	ent := newUserEntity(id, name, email)
	payload, err := sonic.ConfigStd.Marshal(ent)
	if err != nil {
		return domain.User{}, err
	}
	et := azcore.ETagAny
	_, err = t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return ent.user(), nil
}

func (t *Tables) DeleteByID(ctx context.Context, id int64) error {
	et := azcore.ETagAny
	_, err := t.table.DeleteEntity(ctx, consts.UsersPartition, rowKey(id), &aztables.DeleteEntityOptions{IfMatch: &et})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

// Ping reads the counter row; a missing row still proves the table answers.
func (t *Tables) Ping(ctx context.Context) error {
	_, err := t.table.GetEntity(ctx, counterPartition, consts.CounterRowKey, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return err
	}
	return nil
}

// nextID advances the counter row with an ETag conditional update and
// retries when another writer got there first.
func (t *Tables) nextID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxCounterAttempts; attempt++ {
		resp, err := t.table.GetEntity(ctx, counterPartition, consts.CounterRowKey, nil)
		if err != nil {
			if !isStatus(err, http.StatusNotFound) {
				return 0, err
			}
			payload, err := sonic.ConfigStd.Marshal(counterEntity{
				PartitionKey: counterPartition,
				RowKey:       consts.CounterRowKey,
				Value:        1,
				ValueType:    edmInt64,
			})
			if err != nil {
				return 0, err
			}
			if _, err := t.table.AddEntity(ctx, payload, nil); err != nil {
				if isStatus(err, http.StatusConflict) {
					continue
				}
				return 0, err
			}
			return 1, nil
		}

		var counter counterEntity
		if err := sonic.ConfigStd.Unmarshal(resp.Value, &counter); err != nil {
			return 0, err
		}
		counter.Value++
		counter.ValueType = edmInt64
		payload, err := sonic.ConfigStd.Marshal(counter)
		if err != nil {
			return 0, err
		}
		et := resp.ETag
		_, err = t.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
		if err != nil {
			if isStatus(err, http.StatusPreconditionFailed) {
				continue
			}
			return 0, err
		}
		return counter.Value, nil
	}
	return 0, ErrCounterContention
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
