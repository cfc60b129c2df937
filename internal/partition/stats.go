package partition

import "github.com/arloliu/mqread/types"

// refreshStat copies the monitored fields into the stat snapshot.
func (r *Reader) refreshStat() {
	st := types.PartitionStatus{
		Topic:           r.cfg.Topic,
		Partition:       r.partition,
		From:            r.keys.From,
		To:              r.keys.To,
		NextMessageID:   r.nextMsgID,
		NextTimestamp:   r.nextTimestamp,
		Buffered:        r.buffer.Len(),
		Checkpoint:      r.Checkpoint(),
		TimestampLimit:  r.limit,
		ExceedLimit:     r.ExceedTimestampLimit(),
		Finished:        r.Finished(),
		LastErrorCode:   types.CodeOf(r.lastErr),
		LastSuccessTime: r.lastSuccess,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}

	r.statMu.Lock()
	r.stat = st
	r.statMu.Unlock()
}

// Status returns the latest snapshot. It does not need the topic reader's lock.
func (r *Reader) Status() types.PartitionStatus {
	r.statMu.Lock()
	defer r.statMu.Unlock()

	return r.stat
}
