package reconcile

import (
	"database/sql"
	"encoding/json"

	"github.com/ptrepost/ptrepost/internal/model"
)

// scanItem reads one rss_item row in the column order both reconcilers
// query it in.
func scanItem(rows *sql.Rows) (model.Item, error) {
	var item model.Item
	var metaRaw []byte

	err := rows.Scan(
		&item.ID, &item.GUID, &item.Website, &item.Title, &item.Link, &item.ReleasedAt,
		&item.SizeBytes, &item.IMDbID, &item.DoubanID, &item.SourceInfoHash, &item.TargetInfoHash,
		&item.PickedNode, &item.Status, &item.Progress, &item.FailureReason, &metaRaw,
		&item.HardcodeSubtitle, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return model.Item{}, err
	}

	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &item.MetaInfo); err != nil {
			return model.Item{}, err
		}
	}

	return item, nil
}
