package methods

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Unzip 解压 zip/rar 到同名目录, 返回解压目录
func Unzip(src string) (string, error) {
	ext := strings.ToLower(filepath.Ext(src))
	dest := strings.TrimSuffix(src, filepath.Ext(src))
	if err := os.MkdirAll(dest, os.ModePerm); err != nil {
		return "", err
	}
	switch ext {
	case ".zip":
		return dest, unzipZip(src, dest)
	case ".rar":
		return dest, archiver.Unarchive(src, dest)
	default:
		return "", errors.New("unsupported archive format " + ext)
	}
}

func unzipZip(src, dest string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := extractFile(file, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, dest string) error {
	name := zf.Name
	if zf.NonUTF8 {
		// 老压缩工具打出来的包文件名多为 GBK 编码
		if decoded, err := GbkToUtf8(name); err == nil {
			name = decoded
		}
	}
	fpath := filepath.Join(dest, name)

	// 防止解压到目标目录之外
	if !strings.HasPrefix(fpath, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("%s: illegal file path", fpath)
	}

	if zf.FileInfo().IsDir() {
		return os.MkdirAll(fpath, os.ModePerm)
	}
	if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
		return err
	}
	outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, zf.Mode())
	if err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		outFile.Close()
		return err
	}
	_, err = io.Copy(outFile, rc)
	rc.Close()
	outFile.Close()
	return err
}

// GbkToUtf8 按 GB18030 解码, 兼容 GBK 子集
func GbkToUtf8(s string) (string, error) {
	reader := transform.NewReader(bytes.NewReader([]byte(s)), simplifiedchinese.GB18030.NewDecoder())
	d, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(d), nil
}

// FindByExt 在目录树里找第一个匹配扩展名的文件
func FindByExt(dir string, exts ...string) (string, error) {
	var found string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || found != "" {
			return nil
		}
		for _, ext := range exts {
			if strings.EqualFold(filepath.Ext(path), ext) {
				found = path
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no %s file found in %s", strings.Join(exts, "/"), dir)
	}
	return found, nil
}
