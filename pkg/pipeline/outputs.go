package pipeline

import (
	"path/filepath"
	"strings"

	"seedcorr/pkg/filetype"
)

const (
	niftiOutputSuffix = ".nii.gz"
	ciftiOutputSuffix = ".dscalar.nii"
	meantsSuffix      = "_meants.csv"
	npySuffix         = ".npy"
)

// Outputs are the files a run writes.
type Outputs struct {
	// Base is the output path without any container suffix
	Base string

	// Map is the correlation map
	Map string

	// TimeSeries is the seed series, written when requested
	TimeSeries string

	// Npy is the map as a NumPy array, written when requested
	Npy string
}

// ResolveOutputs derives output paths. Without an explicit name the map goes
// next to the functional image as <funcbase>_<seedbase>. The map keeps the
// container type of the functional image: .nii.gz for NIfTI, .dscalar.nii for
// CIFTI.
func ResolveOutputs(outputName, funcPath string, funcKind filetype.Kind, funcBase, seedBase string) Outputs {
	var out Outputs
	if outputName == "" {
		out.Base = filepath.Join(filepath.Dir(funcPath), funcBase+"_"+seedBase)
		outputName = out.Base
	} else {
		out.Base = strings.TrimSuffix(outputName, niftiOutputSuffix)
		out.Base = strings.TrimSuffix(out.Base, ciftiOutputSuffix)
	}

	suffix := niftiOutputSuffix
	if funcKind == filetype.CIFTI {
		suffix = ciftiOutputSuffix
	}
	out.Map = outputName
	if !strings.HasSuffix(out.Map, suffix) {
		out.Map += suffix
	}

	out.TimeSeries = out.Base + meantsSuffix
	out.Npy = out.Base + npySuffix
	return out
}
