package domain

// Classification 是记录相对上一轮 snapshot 的变化分类。
type Classification string

const (
	ClassNew       Classification = "NEW"
	ClassChanged   Classification = "CHANGED"
	ClassUnchanged Classification = "UNCHANGED"
)

type DiffResult struct {
	InternalSKU    string         `json:"internal_sku"`
	Classification Classification `json:"classification"`
	ChangedFields  []string       `json:"changed_fields,omitempty"`
}
