package table

// properties_codec.go implements a binary wire codec for TableProperties,
// used to exchange a flush job's output metadata between a remote worker
// and the generator that commits it to the manifest.
//
// A "double-check" mode prefixes every field with its name as a
// length-prefixed string before the value; the decoder asserts the tag
// matches the field it's about to read before consuming the value. This
// trades wire size for an immediate, precisely located diagnostic when the
// two sides disagree about field order (e.g. after one side adds a new
// property and the other hasn't been rebuilt), instead of silently
// misattributing bytes to the wrong field.
//
// Reference: original_source/table/table_properties.cc (TableProperties::
// DoubleCheck, field order) and the existing ParsePropertiesBlock property
// set in this package.
import (
	"errors"
	"fmt"
	"sort"

	"github.com/ridgelinedb/ridgeline/internal/encoding"
)

// ErrFieldTagMismatch is returned by Decode in double-check mode when the
// wire's field tag doesn't match the field about to be decoded.
var ErrFieldTagMismatch = errors.New("table: properties field tag mismatch")

// propertyField names every field in on-wire order, used only for
// double-check tagging.
var propertyField = []string{
	"orig_file_number", "data_size", "index_size", "index_partitions",
	"top_level_index_size", "index_key_is_user_key",
	"index_value_is_delta_encoded", "filter_size", "raw_key_size",
	"raw_value_size", "num_data_blocks", "num_entries", "num_filter_entries",
	"num_deletions", "num_merge_operands", "num_range_deletions",
	"format_version", "fixed_key_len", "column_family_id", "creation_time",
	"oldest_key_time", "newest_key_time", "file_creation_time",
	"tail_start_offset", "user_defined_timestamps_persisted",
	"key_largest_seqno", "key_smallest_seqno",
	"slow_compression_estimated_size", "fast_compression_estimated_size",
	"db_id", "db_session_id", "db_host_id", "filter_policy_name",
	"column_family_name", "comparator_name", "merge_operator_name",
	"prefix_extractor_name", "property_collectors_names", "compression_name",
	"compression_options", "seqno_to_time_mapping",
	"user_collected_properties", "readable_properties",
}

// Encode serializes props into a wire-format byte slice. When doubleCheck is
// true, every field is prefixed with its name; the two modes are
// distinguished by a single leading byte so Decode doesn't need to be told
// which mode produced a given buffer.
func (props *TableProperties) Encode(doubleCheck bool) []byte {
	var buf []byte
	if doubleCheck {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	field := 0
	tag := func() {
		if doubleCheck {
			buf = encoding.AppendLengthPrefixedSlice(buf, []byte(propertyField[field]))
		}
		field++
	}
	u64 := func(v uint64) {
		tag()
		buf = encoding.AppendVarint64(buf, v)
	}
	str := func(s string) {
		tag()
		buf = encoding.AppendLengthPrefixedSlice(buf, []byte(s))
	}

	u64(props.OrigFileNumber)
	u64(props.DataSize)
	u64(props.IndexSize)
	u64(props.IndexPartitions)
	u64(props.TopLevelIndexSize)
	u64(props.IndexKeyIsUserKey)
	u64(props.IndexValueIsDeltaEncoded)
	u64(props.FilterSize)
	u64(props.RawKeySize)
	u64(props.RawValueSize)
	u64(props.NumDataBlocks)
	u64(props.NumEntries)
	u64(props.NumFilterEntries)
	u64(props.NumDeletions)
	u64(props.NumMergeOperands)
	u64(props.NumRangeDeletions)
	u64(props.FormatVersion)
	u64(props.FixedKeyLen)
	u64(props.ColumnFamilyID)
	u64(props.CreationTime)
	u64(props.OldestKeyTime)
	u64(props.NewestKeyTime)
	u64(props.FileCreationTime)
	u64(props.TailStartOffset)
	u64(props.UserDefinedTimestampsPersisted)
	u64(props.KeyLargestSeqno)
	u64(props.KeySmallestSeqno)
	u64(props.SlowCompressionEstimatedSize)
	u64(props.FastCompressionEstimatedSize)

	str(props.DBID)
	str(props.DBSessionID)
	str(props.DBHostID)
	str(props.FilterPolicyName)
	str(props.ColumnFamilyName)
	str(props.ComparatorName)
	str(props.MergeOperatorName)
	str(props.PrefixExtractorName)
	str(props.PropertyCollectorsNames)
	str(props.CompressionName)
	str(props.CompressionOptions)
	str(props.SeqnoToTimeMapping)

	tag()
	buf = encoding.AppendVarint64(buf, uint64(len(props.UserCollectedProperties)))
	for _, k := range sortedKeys(props.UserCollectedProperties) {
		buf = encoding.AppendLengthPrefixedSlice(buf, []byte(k))
		buf = encoding.AppendLengthPrefixedSlice(buf, []byte(props.UserCollectedProperties[k]))
	}

	tag()
	buf = encoding.AppendVarint64(buf, uint64(len(props.ReadableProperties)))
	for _, k := range sortedKeys(props.ReadableProperties) {
		buf = encoding.AppendLengthPrefixedSlice(buf, []byte(k))
		buf = encoding.AppendLengthPrefixedSlice(buf, []byte(props.ReadableProperties[k]))
	}

	return buf
}

// DecodeTableProperties is the inverse of Encode.
func DecodeTableProperties(data []byte) (*TableProperties, error) {
	if len(data) < 1 {
		return nil, errors.New("table: properties buffer too short")
	}
	doubleCheck := data[0] == 1
	data = data[1:]

	props := &TableProperties{
		UserCollectedProperties: make(map[string]string),
		ReadableProperties:      make(map[string]string),
	}

	field := 0
	checkTag := func() error {
		if !doubleCheck {
			field++
			return nil
		}
		name, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return fmt.Errorf("table: decode field tag: %w", err)
		}
		data = data[n:]
		if string(name) != propertyField[field] {
			return fmt.Errorf("%w: expected %q, got %q", ErrFieldTagMismatch, propertyField[field], name)
		}
		field++
		return nil
	}
	u64 := func(dst *uint64) error {
		if err := checkTag(); err != nil {
			return err
		}
		v, n, err := encoding.DecodeVarint64(data)
		if err != nil {
			return err
		}
		data = data[n:]
		*dst = v
		return nil
	}
	str := func(dst *string) error {
		if err := checkTag(); err != nil {
			return err
		}
		v, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return err
		}
		data = data[n:]
		*dst = string(v)
		return nil
	}

	fields := []*uint64{
		&props.OrigFileNumber, &props.DataSize, &props.IndexSize, &props.IndexPartitions,
		&props.TopLevelIndexSize, &props.IndexKeyIsUserKey, &props.IndexValueIsDeltaEncoded,
		&props.FilterSize, &props.RawKeySize, &props.RawValueSize, &props.NumDataBlocks,
		&props.NumEntries, &props.NumFilterEntries, &props.NumDeletions, &props.NumMergeOperands,
		&props.NumRangeDeletions, &props.FormatVersion, &props.FixedKeyLen, &props.ColumnFamilyID,
		&props.CreationTime, &props.OldestKeyTime, &props.NewestKeyTime, &props.FileCreationTime,
		&props.TailStartOffset, &props.UserDefinedTimestampsPersisted, &props.KeyLargestSeqno,
		&props.KeySmallestSeqno, &props.SlowCompressionEstimatedSize, &props.FastCompressionEstimatedSize,
	}
	for _, f := range fields {
		if err := u64(f); err != nil {
			return nil, err
		}
	}

	strs := []*string{
		&props.DBID, &props.DBSessionID, &props.DBHostID, &props.FilterPolicyName,
		&props.ColumnFamilyName, &props.ComparatorName, &props.MergeOperatorName,
		&props.PrefixExtractorName, &props.PropertyCollectorsNames, &props.CompressionName,
		&props.CompressionOptions, &props.SeqnoToTimeMapping,
	}
	for _, s := range strs {
		if err := str(s); err != nil {
			return nil, err
		}
	}

	if err := checkTag(); err != nil {
		return nil, err
	}
	n, consumed, err := encoding.DecodeVarint64(data)
	if err != nil {
		return nil, err
	}
	data = data[consumed:]
	for i := uint64(0); i < n; i++ {
		k, kn, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return nil, err
		}
		data = data[kn:]
		v, vn, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return nil, err
		}
		data = data[vn:]
		props.UserCollectedProperties[string(k)] = string(v)
	}

	if err := checkTag(); err != nil {
		return nil, err
	}
	n, consumed, err = encoding.DecodeVarint64(data)
	if err != nil {
		return nil, err
	}
	data = data[consumed:]
	for i := uint64(0); i < n; i++ {
		k, kn, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return nil, err
		}
		data = data[kn:]
		v, vn, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return nil, err
		}
		data = data[vn:]
		props.ReadableProperties[string(k)] = string(v)
	}

	return props, nil
}

// sortedKeys returns m's keys in sorted order so Encode is deterministic,
// which matters for double-check mode (tag/value pairs must line up
// identically across repeated encodes of the same properties for the debug
// log to be useful) and for golden round-trip tests.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
