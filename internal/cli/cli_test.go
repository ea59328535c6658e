package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
	"dmritools/pkg/nifti"
	"dmritools/pkg/sidecar"
	"dmritools/pkg/sliceorder"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))

	err := root.Execute()
	return stdout.String(), err
}

func identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// writeScan writes <dir>/<name>.nii.gz, .bval, .bvec and .json
func writeScan(t *testing.T, dir, name string, affine *mat.Dense, tr string) string {
	t.Helper()
	base := filepath.Join(dir, name)
	require.NoError(t, nifti.SaveVolume(models.NewVolume([]int{2, 2, 2, 3}, affine), base+".nii.gz"))
	writeFile(t, base+".bval", "0 1000 1000\n")
	writeFile(t, base+".bvec", "0 1 0\n0 0 1\n0 0 0\n")
	writeFile(t, base+".json", fmt.Sprintf(`{"ShimSetting": [1, 2], "SliceTiming": [0, 0.5, 0, 0.5],
		"EchoTime": 0.08, "RepetitionTime": %s, "FlipAngle": 90, "TxRefAmp": 200,
		"EchoTrainLength": 40, "EffectiveEchoSpacing": 0.0006, "TotalReadoutTime": 0.03,
		"PixelBandwidth": 1500, "DwellTime": 3e-6, "MultibandAccelerationFactor": 2}`, tr))
	return base
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"general", errors.New("boom"), ExitGeneralError},
		{"usage", newUsageError("bad flag"), ExitUsageError},
		{"wrapped usage", fmt.Errorf("ctx: %w", newUsageError("bad")), ExitUsageError},
		{"config", fmt.Errorf("x: %w", models.ErrInvalidConfig), ExitConfigError},
		{"missing file", fmt.Errorf("open: %w", fs.ErrNotExist), ExitMissingInput},
		{"missing key", &sidecar.MissingKeyError{Key: sidecar.EchoTime}, ExitMissingInput},
		{"invalid value", &sidecar.InvalidValueError{Key: sidecar.SliceTiming, Reason: "element 1 is null"}, ExitMissingInput},
		{"shape", fmt.Errorf("bvals: %w", models.ErrShapeMismatch), ExitShapeMismatch},
		{"slice order", &sliceorder.InconsistencyError{Size: 2, Expected: 3}, ExitConsistencyFailed},
		{"cobra required flag", errors.New(`required flag(s) "sidecar" not set`), ExitUsageError},
		{"cobra unknown flag", errors.New("unknown flag: --nope"), ExitUsageError},
		{"cobra unknown command", errors.New(`unknown command "frobnicate" for "dmritools"`), ExitUsageError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeForError(tt.err))
		})
	}
}

func TestCompareCommand(t *testing.T) {
	dir := t.TempDir()
	ap := writeScan(t, dir, "dwi_AP", identity(), "3.2")
	pa := writeScan(t, dir, "dwi_PA", identity(), "3.2")

	out, err := run(t, "compare", "-a", ap, "-p", pa)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 16)
	assert.Equal(t, fmt.Sprintf("Comparing %s with %s", ap, pa), lines[0])
	assert.Empty(t, lines[1])
	assert.Equal(t, ">>> "+strings.Repeat(" ", 13)+"affines:   match  True; close  True; deviation 0.0", lines[2])
	for _, line := range lines[2:] {
		assert.Contains(t, line, "match  True; close  True; deviation 0.0")
	}
	assert.NotContains(t, out, "\x1b[")

	out, err = run(t, "compare", "-a", ap, "-p", pa, "--different")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSuffix(out, "\n"), "\n"), 13)
	assert.NotContains(t, out, "bvals")
	assert.NotContains(t, out, "SliceTiming")
}

func TestCompareCommandDifferences(t *testing.T) {
	dir := t.TempDir()
	ap := writeScan(t, dir, "dwi_AP", identity(), "3.2")
	pa := writeScan(t, dir, "dwi_PA", identity(), "3.3")

	out, err := run(t, "compare", "-a", ap, "-p", pa, "--color", "always")
	require.NoError(t, err)
	assert.Contains(t, out, "RepetitionTime:   match False; close False; deviation 0.")
	assert.Contains(t, out, "\x1b[")

	// A tolerance large enough makes the fields close
	out, err = run(t, "compare", "-a", ap, "-p", pa, "--atol", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "RepetitionTime:   match False; close  True")
}

func TestCompareCommandErrors(t *testing.T) {
	dir := t.TempDir()
	ap := writeScan(t, dir, "dwi_AP", identity(), "3.2")
	pa := writeScan(t, dir, "dwi_PA", identity(), "3.2")

	_, err := run(t, "compare", "-a", ap)
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, err = run(t, "compare", "-a", ap, "-p", pa, "--color", "sometimes")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	writeFile(t, pa+".json", `{"EchoTime": 0.08}`)
	out, err := run(t, "compare", "-a", ap, "-p", pa)
	assert.Equal(t, ExitMissingInput, ExitCodeForError(err))
	assert.Empty(t, out, "nothing is printed when a field fails")

	_, err = run(t, "compare", "-a", ap, "-p", filepath.Join(dir, "absent"))
	assert.Equal(t, ExitMissingInput, ExitCodeForError(err))
}

func TestSliceOrderCommand(t *testing.T) {
	dir := t.TempDir()
	sc := filepath.Join(dir, "dwi.json")
	output := filepath.Join(dir, "slspec.txt")
	writeFile(t, sc, `{"SliceTiming": [0, 100, 200, 0, 100, 200, 0, 100, 200], "MultibandAccelerationFactor": 3}`)

	out, err := run(t, "slice-order", "-s", sc, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, output)

	b, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "0 3 6\n1 4 7\n2 5 8\n", string(b))

	writeFile(t, sc, `{"SliceTiming": [0, 100, 0, 100, 0, 100], "MultibandAccelerationFactor": 3.0}`)
	_, err = run(t, "slice-order", "-s", sc, "-o", output)
	require.NoError(t, err)

	writeFile(t, sc, `{"SliceTiming": [0, 100, 0, 100, 0, 100], "MultibandAccelerationFactor": 2.5}`)
	_, err = run(t, "slice-order", "-s", sc, "-o", filepath.Join(dir, "other.txt"))
	assert.Equal(t, ExitMissingInput, ExitCodeForError(err))
	assert.NoFileExists(t, filepath.Join(dir, "other.txt"))
}

func TestSliceOrderCommandInconsistent(t *testing.T) {
	dir := t.TempDir()
	sc := filepath.Join(dir, "dwi.json")
	output := filepath.Join(dir, "slspec.txt")

	writeFile(t, sc, `{"SliceTiming": [0, 100, 200, 0, 100], "MultibandAccelerationFactor": 3}`)
	_, err := run(t, "slice-order", "-s", sc, "-o", output)
	assert.Equal(t, ExitConsistencyFailed, ExitCodeForError(err))
	assert.NoFileExists(t, output)

	// Later short groups pass the first-group check but cannot be written
	writeFile(t, sc, `{"SliceTiming": [0, 0, 100, 100, 200], "MultibandAccelerationFactor": 2}`)
	_, err = run(t, "slice-order", "-s", sc, "-o", output)
	assert.Equal(t, ExitConsistencyFailed, ExitCodeForError(err))

	_, err = run(t, "slice-order", "-s", sc, "-o", output, "--first-group-only")
	assert.Equal(t, ExitShapeMismatch, ExitCodeForError(err))
	assert.NoFileExists(t, output)
}

func TestFixAffineCommand(t *testing.T) {
	dir := t.TempDir()
	shifted := identity()
	shifted.Set(0, 3, 0.25)
	ap := writeScan(t, dir, "dwi_AP", identity(), "3.2")
	pa := writeScan(t, dir, "dwi_PA", shifted, "3.2")

	out, err := run(t, "fix-affine", "-a", ap, "-p", pa)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("fixing the affine matrix of %s to match %s ...\n", pa, ap), out)

	out, err = run(t, "fix-affine", "-a", ap, "-p", pa)
	require.NoError(t, err)
	assert.Contains(t, out, "image affines are equal. not modifying ...")

	out, err = run(t, "compare", "-a", ap, "-p", pa)
	require.NoError(t, err)
	assert.Contains(t, out, "affines:   match  True")
}

// writeDWI writes a two-shell acquisition of a 2x1x1 volume with an
// isotropic diffusion signal.
func writeDWI(t *testing.T, dir string) (string, string, string, string) {
	t.Helper()

	var bvals []float64
	var bvecs [][3]float64
	bvals = append(bvals, 0)
	bvecs = append(bvecs, [3]float64{})
	golden := math.Pi * (3 - math.Sqrt(5))
	for _, b := range []float64{1000, 2000} {
		for i := 0; i < 25; i++ {
			z := 1 - 2*(float64(i)+0.5)/25
			r := math.Sqrt(1 - z*z)
			bvals = append(bvals, b)
			bvecs = append(bvecs, [3]float64{r * math.Cos(golden*float64(i)), r * math.Sin(golden*float64(i)), z})
		}
	}

	n := len(bvals)
	data := models.NewVolume([]int{2, 1, 1, n}, identity())
	for i, b := range bvals {
		data.Data[2*i] = 1000 * math.Exp(-b*1e-3+b*b*1e-6/6)
		data.Data[2*i+1] = 500 * math.Exp(-b*0.7e-3)
	}
	mask := models.NewVolume([]int{2, 1, 1}, identity())
	mask.Data[0], mask.Data[1] = 1, 1

	dwi := filepath.Join(dir, "dwi.nii.gz")
	maskPath := filepath.Join(dir, "mask.nii.gz")
	require.NoError(t, nifti.SaveVolume(data, dwi))
	require.NoError(t, nifti.SaveVolume(mask, maskPath))

	var bval, bvec strings.Builder
	for i, b := range bvals {
		if i > 0 {
			bval.WriteByte(' ')
		}
		fmt.Fprintf(&bval, "%g", b)
	}
	for c := 0; c < 3; c++ {
		for i := range bvecs {
			if i > 0 {
				bvec.WriteByte(' ')
			}
			fmt.Fprintf(&bvec, "%.17g", bvecs[i][c])
		}
		bvec.WriteByte('\n')
	}
	bvalPath := filepath.Join(dir, "dwi.bval")
	bvecPath := filepath.Join(dir, "dwi.bvec")
	writeFile(t, bvalPath, bval.String()+"\n")
	writeFile(t, bvecPath, bvec.String())

	return dwi, maskPath, bvalPath, bvecPath
}

func TestDKIFitCommand(t *testing.T) {
	dir := t.TempDir()
	dwi, mask, bval, bvec := writeDWI(t, dir)
	outDir := filepath.Join(dir, "dki")

	out, err := run(t, "dki-fit", "-i", dwi, "-m", mask, "-b", bval, "-v", bvec, "-o", outDir, "--snapshots")
	require.NoError(t, err)

	for _, name := range []string{"L1", "L2", "L3", "V1", "V2", "V3", "KFA", "FA", "MD", "AD", "RD", "MODEL_S0"} {
		path := filepath.Join(outDir, name+".nii.gz")
		assert.Contains(t, out, ">>> "+path+"\n")
		assert.FileExists(t, path)
	}
	assert.FileExists(t, filepath.Join(outDir, "snapshots", "FA_z.jpg"))

	md, err := nifti.LoadVolume(filepath.Join(outDir, "MD.nii.gz"))
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, md.Data[0], 1e-7)
	assert.InDelta(t, 0.7e-3, md.Data[1], 1e-7)

	s0, err := nifti.LoadVolume(filepath.Join(outDir, "MODEL_S0.nii.gz"))
	require.NoError(t, err)
	assert.InDelta(t, 1000, s0.Data[0], 1e-2)
}

func TestDKIFitCommandErrors(t *testing.T) {
	dir := t.TempDir()
	dwi, mask, bval, bvec := writeDWI(t, dir)
	outDir := filepath.Join(dir, "dki")

	_, err := run(t, "dki-fit", "-i", dwi, "-m", mask, "-b", bval, "-v", bvec, "-o", outDir, "--method", "NLLS")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	writeFile(t, bval, "0 1000 2000\n")
	_, err = run(t, "dki-fit", "-i", dwi, "-m", mask, "-b", bval, "-v", bvec, "-o", outDir)
	assert.Equal(t, ExitShapeMismatch, ExitCodeForError(err))
	assert.NoDirExists(t, outDir)
}

func TestEigen2TensorCommand(t *testing.T) {
	dir := t.TempDir()
	var ls, vs []string
	for i := 0; i < 3; i++ {
		l := models.NewVolume([]int{2, 1, 1}, identity())
		l.Data[0], l.Data[1] = float64(i+1), float64(2*(i+1))
		v := models.NewVolume([]int{2, 1, 1, 3}, identity())
		v.Data[2*i], v.Data[2*i+1] = 1, 1

		lp := filepath.Join(dir, fmt.Sprintf("L%d.nii.gz", i+1))
		vp := filepath.Join(dir, fmt.Sprintf("V%d.nii.gz", i+1))
		require.NoError(t, nifti.SaveVolume(l, lp))
		require.NoError(t, nifti.SaveVolume(v, vp))
		ls = append(ls, lp)
		vs = append(vs, vp)
	}

	output := filepath.Join(dir, "tensor.nii.gz")
	out, err := run(t, "eigen2tensor", "-l", strings.Join(ls, ","), "-v", strings.Join(vs, ","), "-o", output)
	require.NoError(t, err)
	assert.Equal(t, ">>> "+output+"\n", out)

	tensor, err := nifti.LoadVolume(output)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1, 6}, tensor.Dims)
	// Dxx, Dxy, Dxz, Dyy, Dyz, Dzz of voxel 1
	got := []float64{tensor.Data[1], tensor.Data[3], tensor.Data[5], tensor.Data[7], tensor.Data[9], tensor.Data[11]}
	assert.Equal(t, []float64{2, 0, 0, 4, 0, 6}, got)

	_, err = run(t, "eigen2tensor", "-l", ls[0], "-v", strings.Join(vs, ","), "-o", output)
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))
}

func TestSnapshotCommand(t *testing.T) {
	dir := t.TempDir()
	vol := models.NewVolume([]int{4, 4, 3}, identity())
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	image := filepath.Join(dir, "FA.nii.gz")
	require.NoError(t, nifti.SaveVolume(vol, image))

	outDir := filepath.Join(dir, "qc")
	out, err := run(t, "snapshot", "-i", image, "-o", outDir)
	require.NoError(t, err)
	for _, axis := range []string{"x", "y", "z"} {
		path := filepath.Join(outDir, "FA_"+axis+".jpg")
		assert.Contains(t, out, path)
		assert.FileExists(t, path)
	}

	_, err = run(t, "snapshot", "-i", image, "-o", outDir, "--volume", "1")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	assert.Equal(t, "FA", imageStem("/data/FA.nii.gz"))
	assert.Equal(t, "MD", imageStem("MD.nii"))
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmritools.yaml")
	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	// An invalid configuration stops every command
	writeFile(t, path, "output:\n  color: purple\n")
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"--config", path, "slice-order", "-s", "x.json", "-o", "y.txt"})
	err = root.Execute()
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))
}

func TestLogLevelFlag(t *testing.T) {
	_, err := run(t, "--log-level", "chatty", "config", "init", filepath.Join(t.TempDir(), "c.yaml"))
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))
}
