package zfs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DatasetType is the zfs dataset type
type DatasetType string

// ZFS dataset types, which can indicate if a dataset is a filesystem, snapshot, or volume.
const (
	DatasetAll        DatasetType = "all"
	DatasetFilesystem DatasetType = "filesystem"
	DatasetSnapshot   DatasetType = "snapshot"
	DatasetVolume     DatasetType = "volume"
)

// PropertySource specifies the source of a property
type PropertySource string

const (
	PropertySourceLocal     PropertySource = "local"
	PropertySourceDefault   PropertySource = "default"
	PropertySourceInherited PropertySource = "inherited"
	PropertySourceTemporary PropertySource = "temporary"
	PropertySourceReceived  PropertySource = "received"
	PropertySourceNone      PropertySource = "none"
)

// Dataset is a ZFS dataset.  A dataset could be a clone, filesystem, snapshot, or volume.
// The Type struct member can be used to determine a dataset's type.
//
// The field definitions can be found in the ZFS manual:
// https://openzfs.github.io/openzfs-docs/man/7/zfsprops.7.html.
type Dataset struct {
	Name            string                    `json:"Name"`
	Type            DatasetType               `json:"Type"`
	Origin          string                    `json:"Origin"`
	Used            uint64                    `json:"Used"`
	Available       uint64                    `json:"Available"`
	Mounted         bool                      `json:"Mounted"`
	Mountpoint      string                    `json:"Mountpoint"`
	CanMount        string                    `json:"CanMount"`
	Compression     string                    `json:"Compression"`
	Written         uint64                    `json:"Written"`
	Volsize         uint64                    `json:"Volsize"`
	Logicalused     uint64                    `json:"Logicalused"`
	Usedbydataset   uint64                    `json:"Usedbydataset"`
	Usedbysnapshots uint64                    `json:"Usedbysnapshots"`
	Quota           uint64                    `json:"Quota"`
	Refquota        uint64                    `json:"Refquota"`
	Referenced      uint64                    `json:"Referenced"`
	Creation        time.Time                 `json:"Creation"`
	Clones          []string                  `json:"Clones"`
	ExtraProps      map[string]string         `json:"ExtraProps"`
	Sources         map[string]PropertySource `json:"Sources"`
}

// Source returns where the value of the given property comes from
func (d *Dataset) Source(prop string) PropertySource {
	src, ok := d.Sources[prop]
	if !ok {
		return PropertySourceNone
	}
	return src
}

// IsSnapshot returns whether the dataset is a snapshot
func (d *Dataset) IsSnapshot() bool {
	return d.Type == DatasetSnapshot
}

// DatasetName returns the name of the dataset a snapshot belongs to, or the name itself otherwise
func (d *Dataset) DatasetName() string {
	idx := strings.IndexByte(d.Name, '@')
	if idx < 0 {
		return d.Name
	}
	return d.Name[:idx]
}

// SnapshotName returns the part after the @ of a snapshot name, or an empty string for other types
func (d *Dataset) SnapshotName() string {
	idx := strings.IndexByte(d.Name, '@')
	if idx < 0 {
		return ""
	}
	return d.Name[idx+1:]
}

const (
	nameField = iota
	propertyField
	valueField
	sourceField
)

func readDatasets(output [][]string, extraProps []string) ([]Dataset, error) {
	datasets := make([]Dataset, 0, len(output)/(len(dsPropList)+len(extraProps))+1)
	for _, fields := range output {
		if len(fields) != 4 {
			return nil, fmt.Errorf("output contains line with %d fields: %s", len(fields), strings.Join(fields, " "))
		}

		if len(datasets) == 0 || fields[nameField] != datasets[len(datasets)-1].Name {
			datasets = append(datasets, Dataset{
				Name:       fields[nameField],
				ExtraProps: make(map[string]string, len(extraProps)),
				Sources:    make(map[string]PropertySource, 4+len(extraProps)),
			})
		}

		ds := &datasets[len(datasets)-1]
		prop := fields[propertyField]
		val := fields[valueField]
		ds.Sources[prop] = parseSource(fields[sourceField])

		var setError error
		switch prop {
		case PropertyName:
			ds.Name = val
		case PropertyType:
			ds.Type = DatasetType(val)
		case PropertyOrigin:
			ds.Origin = setString(val)
		case PropertyUsed:
			ds.Used, setError = setUint(val)
		case PropertyAvailable:
			ds.Available, setError = setUint(val)
		case PropertyMounted:
			ds.Mounted, setError = setBool(val)
		case PropertyMountPoint:
			ds.Mountpoint = setString(val)
		case PropertyCanMount:
			ds.CanMount = setString(val)
		case PropertyCompression:
			ds.Compression = setString(val)
		case PropertyWritten:
			ds.Written, setError = setUint(val)
		case PropertyVolSize:
			ds.Volsize, setError = setUint(val)
		case PropertyLogicalUsed:
			ds.Logicalused, setError = setUint(val)
		case PropertyUsedByDataset:
			ds.Usedbydataset, setError = setUint(val)
		case PropertyUsedBySnapshots:
			ds.Usedbysnapshots, setError = setUint(val)
		case PropertyQuota:
			ds.Quota, setError = setUint(val)
		case PropertyRefQuota:
			ds.Refquota, setError = setUint(val)
		case PropertyReferenced:
			ds.Referenced, setError = setUint(val)
		case PropertyCreation:
			ds.Creation, setError = setTime(val)
		case PropertyClones:
			ds.Clones = setList(val)
		default:
			if val == PropertyUnset {
				ds.ExtraProps[prop] = ""
				continue
			}
			ds.ExtraProps[prop] = val
		}
		if setError != nil {
			return nil, fmt.Errorf("error in dataset %d (%s) field %s [%s]: %w", len(datasets)-1, ds.Name, prop, val, setError)
		}
	}

	return datasets, nil
}

func parseSource(val string) PropertySource {
	switch {
	case val == PropertyUnset, val == "":
		return PropertySourceNone
	case strings.HasPrefix(val, string(PropertySourceInherited)):
		// "inherited from pool/parent"
		return PropertySourceInherited
	default:
		return PropertySource(val)
	}
}

func setString(val string) string {
	if val == PropertyUnset {
		return ""
	}
	return val
}

func setUint(val string) (uint64, error) {
	if val == PropertyUnset || val == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func setBool(val string) (bool, error) {
	if val == PropertyUnset {
		return false, nil
	}

	return val == PropertyYes || val == PropertyOn, nil
}

func setTime(val string) (time.Time, error) {
	if val == PropertyUnset || val == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0), nil
}

func setList(val string) []string {
	if val == PropertyUnset || val == "" {
		return nil
	}
	return strings.Split(val, ",")
}
