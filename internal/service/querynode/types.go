package querynode

// Record types for the indexer queries. Explicit per-query shapes; a null
// field is only meaningful at this edge and decodes into pointer fields.

// Channel is the indexer's view of an on-chain channel.
type Channel struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	TotalVideos    int    `json:"totalVideosCreated"`
	RewardAccount  string `json:"rewardAccount"`
	CollaboratorID string `json:"collaboratorId"`
}

// Video is the indexer's view of an on-chain video.
type Video struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channelId"`
	MediaID   string   `json:"mediaId"`
	AssetIDs  []string `json:"assetIds"`
}

// Member is an on-chain membership.
type Member struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// StorageBucket is a storage node advertising capacity.
type StorageBucket struct {
	ID             string `json:"id"`
	OperatorStatus string `json:"operatorStatus"`
	Endpoint       string `json:"endpoint"`
	SizeLimit      int64  `json:"sizeLimit,string"`
	SizeUsed       int64  `json:"sizeUsed,string"`
	ObjectLimit    int64  `json:"objectCountLimit,string"`
	ObjectsUsed    int64  `json:"objectsUsed,string"`
	AcceptingBags  bool   `json:"acceptingNewBags"`
}

// FreeSize reports the bucket's unused byte capacity.
func (b StorageBucket) FreeSize() int64 {
	return b.SizeLimit - b.SizeUsed
}

// FreeObjects reports the bucket's unused object slots.
func (b StorageBucket) FreeObjects() int64 {
	return b.ObjectLimit - b.ObjectsUsed
}

// DistributionBucketFamily groups distribution buckets by region.
type DistributionBucketFamily struct {
	ID      string   `json:"id"`
	Regions []string `json:"regions"`
}

// DataObject is a stored asset blob reference.
type DataObject struct {
	ID         string `json:"id"`
	Size       int64  `json:"size,string"`
	IPFSHash   string `json:"ipfsHash"`
	IsAccepted bool   `json:"isAccepted"`
	StorageBag string `json:"storageBagId"`
}

// ProcessorState reports how far the indexer has processed the chain.
type ProcessorState struct {
	LastCompleteBlock int64 `json:"lastCompleteBlock"`
}
