package zfs

// Dataset properties retrieved for every dataset by ListDatasets
const (
	PropertyName            = "name"
	PropertyType            = "type"
	PropertyOrigin          = "origin"
	PropertyUsed            = "used"
	PropertyAvailable       = "available"
	PropertyMounted         = "mounted"
	PropertyMountPoint      = "mountpoint"
	PropertyCanMount        = "canmount"
	PropertyCompression     = "compression"
	PropertyWritten         = "written"
	PropertyVolSize         = "volsize"
	PropertyLogicalUsed     = "logicalused"
	PropertyUsedByDataset   = "usedbydataset"
	PropertyUsedBySnapshots = "usedbysnapshots"
	PropertyQuota           = "quota"
	PropertyRefQuota        = "refquota"
	PropertyReferenced      = "referenced"
	PropertyCreation        = "creation"
	PropertyClones          = "clones"
)

// Other dataset properties
const (
	PropertyReadOnly = "readonly"
)

// Pool properties
const (
	PoolPropertyBootFS = "bootfs"
)

// Property values
const (
	PropertyUnset = "-"

	PropertyYes    = "yes"
	PropertyNo     = "no"
	PropertyOn     = "on"
	PropertyOff    = "off"
	PropertyNone   = "none"
	PropertyLegacy = "legacy"

	CanMountNoAuto = "noauto"
)

var dsPropList = []string{
	PropertyName,
	PropertyType,
	PropertyOrigin,
	PropertyUsed,
	PropertyAvailable,
	PropertyMounted,
	PropertyMountPoint,
	PropertyCanMount,
	PropertyCompression,
	PropertyWritten,
	PropertyVolSize,
	PropertyLogicalUsed,
	PropertyUsedByDataset,
	PropertyUsedBySnapshots,
	PropertyQuota,
	PropertyRefQuota,
	PropertyReferenced,
	PropertyCreation,
	PropertyClones,
}
