// Package querynode implements the read-model client against the indexer's
// GraphQL endpoint.
package querynode

import (
	"context"
	"errors"
	"fmt"

	"github.com/machinebox/graphql"
	"go.uber.org/zap"
)

// pageSize is the page limit for list queries. Pages are walked by
// limit/offset, not by cursor.
const pageSize = 1000

// Error kinds of the indexer family.
var (
	ErrNotConnected  = errors.New("query node not connected")
	ErrOutdatedState = errors.New("query node state outdated")
)

// Client queries the indexer.
type Client struct {
	gql *graphql.Client
	log *zap.Logger
}

// NewClient creates a query-node client for the given GraphQL endpoint.
func NewClient(endpoint string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		gql: graphql.NewClient(endpoint),
		log: log,
	}
}

func (c *Client) run(ctx context.Context, req *graphql.Request, out interface{}) error {
	if err := c.gql.Run(ctx, req, out); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// ChannelByID resolves one on-chain channel.
func (c *Client) ChannelByID(ctx context.Context, id string) (*Channel, error) {
	req := graphql.NewRequest(`
		query ($id: ID!) {
			channelByUniqueInput(where: { id: $id }) {
				id
				title
				totalVideosCreated
				rewardAccount
				collaboratorId
			}
		}
	`)
	req.Var("id", id)

	var resp struct {
		Channel *Channel `json:"channelByUniqueInput"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Channel, nil
}

// VideoByID resolves one on-chain video.
func (c *Client) VideoByID(ctx context.Context, id string) (*Video, error) {
	req := graphql.NewRequest(`
		query ($id: ID!) {
			videoByUniqueInput(where: { id: $id }) {
				id
				channelId
				mediaId
				assetIds
			}
		}
	`)
	req.Var("id", id)

	var resp struct {
		Video *Video `json:"videoByUniqueInput"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Video, nil
}

// MemberByID resolves one membership.
func (c *Client) MemberByID(ctx context.Context, id string) (*Member, error) {
	req := graphql.NewRequest(`
		query ($id: ID!) {
			membershipByUniqueInput(where: { id: $id }) {
				id
				handle
			}
		}
	`)
	req.Var("id", id)

	var resp struct {
		Member *Member `json:"membershipByUniqueInput"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Member, nil
}

// StorageBucketsWithCapacity pages through all active storage buckets.
func (c *Client) StorageBucketsWithCapacity(ctx context.Context) ([]StorageBucket, error) {
	var all []StorageBucket
	offset := 0

	for {
		req := graphql.NewRequest(`
			query ($limit: Int!, $offset: Int!) {
				storageBuckets(
					limit: $limit,
					offset: $offset,
					where: { operatorStatus_json: { isTypeOf_eq: "StorageBucketOperatorStatusActive" } }
				) {
					id
					operatorStatus
					endpoint
					sizeLimit
					sizeUsed
					objectCountLimit
					objectsUsed
					acceptingNewBags
				}
			}
		`)
		req.Var("limit", pageSize)
		req.Var("offset", offset)

		var resp struct {
			StorageBuckets []StorageBucket `json:"storageBuckets"`
		}
		if err := c.run(ctx, req, &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.StorageBuckets...)
		if len(resp.StorageBuckets) < pageSize {
			return all, nil
		}
		offset += pageSize
	}
}

// DistributionBucketFamilies pages through all distribution families.
func (c *Client) DistributionBucketFamilies(ctx context.Context) ([]DistributionBucketFamily, error) {
	var all []DistributionBucketFamily
	offset := 0

	for {
		req := graphql.NewRequest(`
			query ($limit: Int!, $offset: Int!) {
				distributionBucketFamilies(limit: $limit, offset: $offset) {
					id
					regions
				}
			}
		`)
		req.Var("limit", pageSize)
		req.Var("offset", offset)

		var resp struct {
			Families []DistributionBucketFamily `json:"distributionBucketFamilies"`
		}
		if err := c.run(ctx, req, &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.Families...)
		if len(resp.Families) < pageSize {
			return all, nil
		}
		offset += pageSize
	}
}

// DataObjectByID resolves one data object.
func (c *Client) DataObjectByID(ctx context.Context, id string) (*DataObject, error) {
	req := graphql.NewRequest(`
		query ($id: ID!) {
			storageDataObjectByUniqueInput(where: { id: $id }) {
				id
				size
				ipfsHash
				isAccepted
				storageBagId
			}
		}
	`)
	req.Var("id", id)

	var resp struct {
		DataObject *DataObject `json:"storageDataObjectByUniqueInput"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.DataObject, nil
}

// ProcessorState reports the indexer's processing head.
func (c *Client) ProcessorState(ctx context.Context) (*ProcessorState, error) {
	req := graphql.NewRequest(`
		query {
			stateSubscription {
				lastCompleteBlock
			}
		}
	`)

	var resp struct {
		State *ProcessorState `json:"stateSubscription"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.State == nil {
		return nil, fmt.Errorf("%w: processor state unavailable", ErrNotConnected)
	}
	return resp.State, nil
}

// EnsureFresh fails with ErrOutdatedState when the indexer has not yet
// processed minBlock. Callers use it after a finalized extrinsic before
// reading the write back.
func (c *Client) EnsureFresh(ctx context.Context, minBlock int64) error {
	state, err := c.ProcessorState(ctx)
	if err != nil {
		return err
	}
	if state.LastCompleteBlock < minBlock {
		return fmt.Errorf("%w: at block %d, need %d", ErrOutdatedState, state.LastCompleteBlock, minBlock)
	}
	return nil
}
