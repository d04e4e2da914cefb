package geotx

// Op 编辑操作类型
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// EditCommand 一条编辑命令, 构造后不再修改
// 批次内的顺序有意义, 后面的命令可能依赖前面命令产生的版本
type EditCommand struct {
	Op         Op
	Collection string
	ID         string
	Feature    *Feature
	Expected   *VersionToken
}

// Add 构造新增命令
func Add(collection string, f *Feature) EditCommand {
	return EditCommand{Op: OpAdd, Collection: collection, Feature: f}
}

// Update 构造更新命令, expected 为 nil 表示无条件更新
func Update(collection, id string, f *Feature, expected *VersionToken) EditCommand {
	return EditCommand{Op: OpUpdate, Collection: collection, ID: id, Feature: f, Expected: expected}
}

// Delete 构造删除命令, expected 为 nil 表示无条件删除
func Delete(collection, id string, expected *VersionToken) EditCommand {
	return EditCommand{Op: OpDelete, Collection: collection, ID: id, Expected: expected}
}

// EditResult 每条命令一条结果, 与提交顺序一致, 产出后不再修改
type EditResult struct {
	Success    bool
	ID         string
	NewVersion *VersionToken
	Err        *EditError
}

func successResult(id string, ver VersionToken) EditResult {
	v := ver
	return EditResult{Success: true, ID: id, NewVersion: &v}
}

func failResult(id string, err *EditError) EditResult {
	return EditResult{Success: false, ID: id, Err: err}
}
