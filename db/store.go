package db

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"gomidenbridge/types"
)

// InsertExits appends exits to the ledger. IDs are assigned by the database.
func (s *Store) InsertExits(ctx context.Context, exits []Exit) error {
	if len(exits) == 0 {
		return nil
	}
	for i := range exits {
		if err := knownKinds(exits[i].From, exits[i].To, exits[i].AssetOrigin); err != nil {
			return errors.Wrap(err, "failed to insert exits")
		}
	}
	if err := s.client.WithContext(ctx).Create(&exits).Error; err != nil {
		return errors.Wrap(err, "failed to insert exits")
	}
	return nil
}

// InsertScan records a committed scan window.
func (s *Store) InsertScan(ctx context.Context, rec *ScanRecord) error {
	if err := knownKinds(rec.Chain); err != nil {
		return errors.Wrap(err, "failed to insert scan record")
	}
	if rec.EndBlock < rec.StartBlock {
		return errors.Errorf("scan window [%d,%d] is inverted", rec.StartBlock, rec.EndBlock)
	}
	if err := s.client.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(err, "failed to insert scan record")
	}
	return nil
}

// LastScannedBlock is the watermark of a chain: the highest committed end
// block, or 0 when the chain was never scanned.
func (s *Store) LastScannedBlock(ctx context.Context, chain types.ChainRef) (uint64, error) {
	var watermark uint64
	err := s.client.WithContext(ctx).
		Model(&ScanRecord{}).
		Select("COALESCE(MAX(end_block), 0)").
		Where("chain_chain_id = ? AND chain_chain_kind = ?", chain.ChainID, chain.ChainKind).
		Scan(&watermark).Error
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read watermark for %s", chain)
	}
	return watermark, nil
}

// ScanRecords lists the committed windows of a chain ordered by start block.
func (s *Store) ScanRecords(ctx context.Context, chain types.ChainRef) ([]ScanRecord, error) {
	var recs []ScanRecord
	err := s.client.WithContext(ctx).
		Where("chain_chain_id = ? AND chain_chain_kind = ?", chain.ChainID, chain.ChainKind).
		Order("start_block ASC").
		Find(&recs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list scans for %s", chain)
	}
	return recs, nil
}

func (s *Store) pendingExits(ctx context.Context) *gorm.DB {
	return s.client.WithContext(ctx).
		Model(&Exit{}).
		Joins("LEFT JOIN fulfills ON fulfills.exit_id = exits.id").
		Where("fulfills.id IS NULL")
}

// PendingExitsPage returns exits without a fulfillment, ordered by id and
// sliced to [pageIndex*pageSize, pageIndex*pageSize+pageSize), together with
// the total number of pending exits.
func (s *Store) PendingExitsPage(ctx context.Context, pageSize, pageIndex int) ([]Exit, int64, error) {
	if pageSize <= 0 {
		return nil, 0, errors.Errorf("invalid page size %d", pageSize)
	}

	var total int64
	if err := s.pendingExits(ctx).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to count pending exits")
	}

	exits := make([]Exit, 0, pageSize)
	err := s.pendingExits(ctx).
		Select("exits.*").
		Order("exits.id ASC").
		Offset(pageIndex * pageSize).
		Limit(pageSize).
		Find(&exits).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to fetch pending exits")
	}
	return exits, total, nil
}

// Fulfill inserts one fulfillment per exit id. Fulfilling an exit twice fails
// on the unique exit_id index.
func (s *Store) Fulfill(ctx context.Context, exitIDs []uint64) error {
	if len(exitIDs) == 0 {
		return nil
	}
	rows := make([]Fulfill, 0, len(exitIDs))
	for _, id := range exitIDs {
		rows = append(rows, Fulfill{ExitID: id})
	}
	if err := s.client.WithContext(ctx).Create(&rows).Error; err != nil {
		return errors.Wrapf(err, "failed to fulfill exits %v", exitIDs)
	}
	return nil
}

// LatestExitBlock returns the highest block number among exits observed on
// the given source chain, 0 if there are none.
func (s *Store) LatestExitBlock(ctx context.Context, chainID uint64) (uint64, error) {
	var block uint64
	err := s.client.WithContext(ctx).
		Model(&Exit{}).
		Select("COALESCE(MAX(block_number), 0)").
		Where("from_chain_id = ?", chainID).
		Scan(&block).Error
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read latest exit block for chain %d", chainID)
	}
	return block, nil
}

func knownKinds(refs ...types.ChainRef) error {
	for _, ref := range refs {
		if !ref.ChainKind.Valid() {
			return errors.Errorf("chain %d has unknown kind %q", ref.ChainID, ref.ChainKind)
		}
	}
	return nil
}
