package postprocess

// neighbours returns the voxel offsets of the given connectivity.
func neighbours(connectivity int) [][3]int {
	var offs [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				n := abs(dx) + abs(dy) + abs(dz)
				if n == 0 || (connectivity == 6 && n > 1) {
					continue
				}
				offs = append(offs, [3]int{dx, dy, dz})
			}
		}
	}
	return offs
}

// Label assigns consecutive labels starting at 1 to the connected components
// of fg on a grid of the given dimensions and returns the label array and the
// number of components. Background voxels get label 0.
func Label(fg []bool, dims [3]int, connectivity int) ([]int32, int) {
	nx, ny, nz := dims[0], dims[1], dims[2]
	labels := make([]int32, len(fg))
	offs := neighbours(connectivity)

	var next int32
	queue := make([]int, 0, 1024)
	for start, on := range fg {
		if !on || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]

			z := idx / (nx * ny)
			y := (idx - z*nx*ny) / nx
			x := idx - z*nx*ny - y*nx
			for _, o := range offs {
				xx, yy, zz := x+o[0], y+o[1], z+o[2]
				if xx < 0 || yy < 0 || zz < 0 || xx >= nx || yy >= ny || zz >= nz {
					continue
				}
				n := zz*nx*ny + yy*nx + xx
				if fg[n] && labels[n] == 0 {
					labels[n] = next
					queue = append(queue, n)
				}
			}
		}
	}
	return labels, int(next)
}
